package stations

import (
	"context"
	"errors"
	"strings"
)

// Station represents a monitoring site. Stations are created on first
// observed reading and are never deleted by this service.
type Station struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Validate checks station invariants.
func (s Station) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("station: empty name")
	}
	return nil
}

// Repository manages station persistence.
type Repository interface {
	Get(ctx context.Context, id int64) (*Station, error)
	GetOrCreateByName(ctx context.Context, name string) (*Station, error)
	List(ctx context.Context, nameFilter string, limit, offset int) ([]Station, int, error)
	Exists(ctx context.Context, id int64) (bool, error)
}
