package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/config"
)

// NATS is a Store backed by a JetStream key-value bucket. Sessions are
// stored as JSON keyed by call SID, which gives every daemon replica the
// same view of a call without any in-process state.
type NATS struct {
	conn   *nats.Conn
	kv     nats.KeyValue
	logger *zap.Logger
}

var _ Store = (*NATS)(nil)

// NewNATS connects to the configured NATS server and ensures the session
// bucket exists.
func NewNATS(ctx context.Context, cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "remindd call sessions",
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info("call session store ready",
		zap.String("provider", "nats"),
		zap.String("bucket", cfg.Bucket))

	return &NATS{conn: nc, kv: kv, logger: logger}, nil
}

// Create persists a new session.
func (s *NATS) Create(_ context.Context, sess *CallSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.CallID, err)
	}
	if _, err := s.kv.Put(sess.CallID, data); err != nil {
		return fmt.Errorf("storing session %s: %w", sess.CallID, err)
	}
	return nil
}

// FindByCallID returns the session for a call SID.
func (s *NATS) FindByCallID(_ context.Context, callID string) (*CallSession, error) {
	entry, err := s.kv.Get(callID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", callID, err)
	}

	var sess CallSession
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", callID, err)
	}
	return &sess, nil
}

// Update applies a partial update using a read-modify-write. Concurrent
// updates to the same call are last-write-wins, matching the status
// semantics for out-of-order webhook events.
func (s *NATS) Update(ctx context.Context, callID string, fields Fields) error {
	sess, err := s.FindByCallID(ctx, callID)
	if err != nil {
		return err
	}

	fields.apply(sess, time.Now().UTC())

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", callID, err)
	}
	if _, err := s.kv.Put(callID, data); err != nil {
		return fmt.Errorf("storing session %s: %w", callID, err)
	}
	return nil
}

// List returns a page of sessions, newest first, and the total count.
func (s *NATS) List(ctx context.Context, page, limit int) ([]*CallSession, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return []*CallSession{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("listing sessions: %w", err)
	}

	all := make([]*CallSession, 0, len(keys))
	for _, key := range keys {
		sess, err := s.FindByCallID(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Deleted between Keys() and Get(); skip.
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []*CallSession{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// Close drains the NATS connection.
func (s *NATS) Close() error {
	s.conn.Close()
	return nil
}
