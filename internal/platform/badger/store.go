// Package badger implements the artifact cache on an embedded BadgerDB.
//
// Entries are written with a native Badger TTL of ttl+StaleRetention, so expired
// artifacts remain readable for stale fallback until Badger drops them.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phrazzld/maintenance-orchestrator/internal/cache"
)

const keyPrefix = "artifact/"

// Config holds configuration for the Badger artifact store.
type Config struct {
	// Dir is the directory for BadgerDB files. Ignored when InMemory is true.
	Dir string

	// InMemory enables in-memory mode, used by tests.
	InMemory bool

	// StaleRetention is how long entries are kept after they expire.
	StaleRetention time.Duration

	// GCInterval is how often to run value log garbage collection. Zero disables it.
	GCInterval time.Duration
}

// ArtifactStore is a cache.Store backed by BadgerDB.
type ArtifactStore struct {
	db             *badger.DB
	staleRetention time.Duration
	logger         *slog.Logger
	now            func() time.Time

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

var _ cache.Store = (*ArtifactStore)(nil)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the store and starts value log GC when configured.
func Open(cfg Config, logger *slog.Logger) (*ArtifactStore, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger directory is required for persistent cache")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger_cache")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	s := &ArtifactStore{
		db:             db,
		staleRetention: cfg.StaleRetention,
		logger:         logger,
		now:            time.Now,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}

	return s, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory(staleRetention time.Duration, logger *slog.Logger) (*ArtifactStore, error) {
	return Open(Config{InMemory: true, StaleRetention: staleRetention}, logger)
}

// SetClock overrides the time source used for CreatedAt/ExpiresAt.
func (s *ArtifactStore) SetClock(now func() time.Time) {
	s.now = now
}

// Get implements cache.Store.
func (s *ArtifactStore) Get(ctx context.Context, key string) (*cache.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var artifact cache.Artifact
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &artifact)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}

	return &artifact, nil
}

// Put implements cache.Store. CreatedAt and ExpiresAt are stamped here.
func (s *ArtifactStore) Put(ctx context.Context, artifact *cache.Artifact, ttl time.Duration) error {
	if artifact == nil || artifact.Key == "" {
		return cache.ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now().UTC()
	stored := *artifact
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(ttl)

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", artifact.Key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+artifact.Key), data).
			WithTTL(ttl + s.staleRetention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", artifact.Key, err)
	}

	artifact.CreatedAt = stored.CreatedAt
	artifact.ExpiresAt = stored.ExpiresAt
	return nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *ArtifactStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}

func (s *ArtifactStore) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means no GC was needed.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
