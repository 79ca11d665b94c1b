package domain

import "errors"

var (
	// ErrStoreUnavailable marks failures talking to the counter store or the
	// persistent credential store. The caller decides whether to fail open
	// or fail closed; the components themselves never do.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
