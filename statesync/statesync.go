// Package statesync snapshots account state so a joining node can start
// from the latest snapshot instead of replaying every block.
package statesync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pos-ledger/logger"
	"pos-ledger/metrics"
	"pos-ledger/models"
	"pos-ledger/repository"
)

// DefaultInterval is the snapshot cadence in blocks.
const DefaultInterval = 100

var (
	// ErrNoSnapshot is returned by Latest before any snapshot exists.
	ErrNoSnapshot = errors.New("no snapshot taken yet")
	// ErrStaleSnapshot is returned for a height at or below the latest snapshot.
	ErrStaleSnapshot = errors.New("snapshot height not above latest")
)

// Store is the slice of the repository State Sync reads and writes.
type Store interface {
	GetAllAccounts() (map[string]*models.Account, error)
	PutSnapshot(s *models.StateSnapshot) error
	GetLatestSnapshot() (*models.StateSnapshot, error)
}

type Syncer struct {
	mu       sync.RWMutex
	store    Store
	latest   *models.StateSnapshot
	interval uint64
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New returns a Syncer snapshotting every interval heights; 0 uses
// DefaultInterval.
func New(store Store, interval uint64, m *metrics.Metrics) *Syncer {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Syncer{store: store, interval: interval, metrics: m, now: time.Now}
}

// Interval is the snapshot cadence in blocks.
func (s *Syncer) Interval() uint64 {
	return s.interval
}

// Due reports whether a snapshot belongs at height. Genesis is never due.
func (s *Syncer) Due(height uint64) bool {
	return height > 0 && height%s.interval == 0
}

// Load picks up the persisted snapshot after a restart.
func (s *Syncer) Load() error {
	snap, err := s.store.GetLatestSnapshot()
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
	return nil
}

// CreateSnapshot captures all committed accounts at height, persists the
// snapshot in place of the previous one and makes it the latest. Calls are
// serialised, so the latest snapshot only moves forward.
func (s *Syncer) CreateSnapshot(height uint64) (*models.StateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest != nil && height <= s.latest.Height {
		return nil, fmt.Errorf("%w: %d, latest %d", ErrStaleSnapshot, height, s.latest.Height)
	}
	accounts, err := s.store.GetAllAccounts()
	if err != nil {
		return nil, fmt.Errorf("snapshot %d: read accounts: %w", height, err)
	}
	snap := models.NewStateSnapshot(height, accounts, s.now().UnixMilli())

	if err := s.store.PutSnapshot(snap); err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", height, err)
	}
	s.latest = snap
	s.metrics.SnapshotCreated()

	logger.Logger.Info("State snapshot created",
		zap.Uint64("height", height),
		zap.String("state_hash", snap.StateHash.String()),
		zap.Int("accounts", len(snap.Accounts)))
	return snap, nil
}

// Latest returns the most recent snapshot.
func (s *Syncer) Latest() (*models.StateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoSnapshot
	}
	return s.latest, nil
}
