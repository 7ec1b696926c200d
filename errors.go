package touristcache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/touristcache/tourist"
)

var (
	// ErrNotFound is returned when the remote store has no matching tourist.
	// It is never cached.
	ErrNotFound = tourist.ErrNotFound
	// ErrRemoteUnavailable wraps store and bus failures, timeouts included.
	ErrRemoteUnavailable = errors.New("touristcache: remote unavailable")
	// ErrMalformedMutation is returned when a mutation is rejected before publish.
	ErrMalformedMutation = errors.New("touristcache: malformed mutation")
	ErrClosed            = errors.New("touristcache: closed")
)

// EvictError reports a partially failed eviction of one view entry.
type EvictError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *EvictError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("evict %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("evict %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("evict %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("evict %q: unknown error", e.Key)
	}
}

func (e *EvictError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

func remoteUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, op, err)
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedMutation, err)
}
