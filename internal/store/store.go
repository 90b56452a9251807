package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/config"
)

// ErrNotFound is returned when no session exists for a call SID.
var ErrNotFound = errors.New("call session not found")

// Store persists call sessions. Implementations must be safe for concurrent
// use; webhook events for different calls are handled in parallel.
type Store interface {
	// Create persists a new session. Creating an existing call SID is an
	// overwrite: the provider never reuses SIDs, so a duplicate create is a
	// replayed request.
	Create(ctx context.Context, sess *CallSession) error

	// FindByCallID returns the session for a call SID, or ErrNotFound.
	FindByCallID(ctx context.Context, callID string) (*CallSession, error)

	// Update applies a partial update to an existing session. Returns
	// ErrNotFound when the session does not exist.
	Update(ctx context.Context, callID string, fields Fields) error

	// List returns a page of sessions ordered by creation time descending,
	// plus the total session count. Page numbering starts at 1.
	List(ctx context.Context, page, limit int) ([]*CallSession, int, error)

	// Close releases any underlying resources.
	Close() error
}

// New builds the store selected by cfg.Provider. The memory store never
// fails to construct; the nats store requires a reachable server.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemory(), nil
	case "nats":
		return NewNATS(ctx, cfg.NATS, logger)
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Provider)
	}
}
