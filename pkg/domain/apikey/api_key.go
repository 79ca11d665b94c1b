package apikey

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidCredential = errors.New("invalid api key")

type APIKey struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Key        string     `json:"key" gorm:"uniqueIndex;size:64"`
	Name       string     `json:"name" gorm:"size:100"`
	UserID     string     `json:"user_id" gorm:"index;size:36"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (a APIKey) IsValid() bool {
	return a.Active
}

func (APIKey) TableName() string {
	return "api_keys"
}
