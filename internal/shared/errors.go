package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Media server errors
	ErrAPIRequest       = fmt.Errorf("API request failed")
	ErrUnauthorized     = fmt.Errorf("media server rejected credentials")
	ErrServerOverloaded = fmt.Errorf("media server overloaded")
	ErrItemNotFound     = fmt.Errorf("item not found")
	ErrInvalidDocument  = fmt.Errorf("invalid metadata document")

	// Sync errors
	ErrUnknownKind    = fmt.Errorf("unknown content kind")
	ErrPoolStopped    = fmt.Errorf("fetch pool stopped")
	ErrWriteConflict  = fmt.Errorf("local database busy")
	ErrSyncIncomplete = fmt.Errorf("sync did not complete")

	// Input validation errors
	ErrInvalidFlag = fmt.Errorf("invalid flag value")
)

// IsPoolFatal reports whether err means the media server is refusing work,
// either because the client lost authorization or because it is overloaded.
func IsPoolFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrServerOverloaded)
}
