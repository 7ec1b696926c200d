package touristcache

import (
	"context"

	"github.com/unkn0wn-root/touristcache/tourist"
)

// RemoteStore is the authoritative source the views are filled from.
// Not-found must be reported as an error matching tourist.ErrNotFound.
// GetByNameAndSurname and GetAll return an empty slice, not an error, when
// nothing matches.
type RemoteStore interface {
	GetByID(ctx context.Context, id string) (tourist.Tourist, error)
	GetByEmail(ctx context.Context, email string) (tourist.Tourist, error)
	GetByPhone(ctx context.Context, phone string) (tourist.Tourist, error)
	GetByNameAndSurname(ctx context.Context, name, surname string) ([]tourist.Tourist, error)
	GetAll(ctx context.Context) ([]tourist.Tourist, error)
}
