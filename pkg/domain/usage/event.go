package usage

import (
	"time"

	"github.com/google/uuid"
)

// Event is one immutable fact per completed (or throttled) request. The
// JSON shape is the wire payload carried on the message channels.
type Event struct {
	ID           uuid.UUID `json:"-" gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time `json:"timestamp" gorm:"index:idx_usage_scan,priority:3"`
	UserID       string    `json:"user_id" gorm:"index:idx_usage_scan,priority:1;size:36"`
	Endpoint     string    `json:"endpoint" gorm:"index:idx_usage_scan,priority:2;size:255"`
	StatusCode   int       `json:"status_code"`
	ResponseTime int64     `json:"response_time"`
}

func (Event) TableName() string {
	return "api_usage"
}

// IsError reports server-visible failures. Throttled requests are counted
// separately and do not double as errors.
func (e Event) IsError() bool {
	return e.StatusCode >= 400 && e.StatusCode != 429
}

func (e Event) IsThrottled() bool {
	return e.StatusCode == 429
}
