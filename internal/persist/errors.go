package persist

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidKey is returned for an empty key or record id.
	ErrInvalidKey = errors.New("invalid key")
)

// ValidationError reports the key or record a validation predicate rejected.
// For collection stores Key holds the record id.
type ValidationError struct {
	Store string
	Key   string
	Item  Record
}

func (e *ValidationError) Error() string {
	if e.Item != nil {
		return fmt.Sprintf("%s: validation failed for item %q", e.Store, e.Key)
	}
	return fmt.Sprintf("%s: validation failed for key %q", e.Store, e.Key)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
