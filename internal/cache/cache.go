// internal/cache/cache.go
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jsbox/internal/config"
	"github.com/xkilldash9x/jsbox/internal/results"
)

// ErrMiss is returned by Get when no live entry exists for a key.
var ErrMiss = errors.New("cache miss")

const keyPrefix = "verdict/"

// Store is the verdict cache contract the engine depends on.
type Store interface {
	Get(ctx context.Context, key string) (*results.Report, error)
	Put(ctx context.Context, key string, report *results.Report) error
	Close() error
}

// Key digests the ordered sample contents together with the rules version.
// Each sample is length-prefixed so that concatenation boundaries matter.
func Key(samples [][]byte) string {
	h := sha256.New()
	h.Write([]byte(results.RulesVersion))
	var n [8]byte
	for _, s := range samples {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write(s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Badger is a Store backed by an embedded badger database.
type Badger struct {
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger
}

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// Open opens (or creates) the cache described by cfg.
func Open(cfg config.CacheConfig, logger *zap.Logger) (*Badger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cache")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for an on-disk cache")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	logger.Debug("Verdict cache opened.",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Duration("ttl", cfg.TTL))
	return &Badger{db: db, ttl: cfg.TTL, logger: logger}, nil
}

// Get returns the cached report for key, with Cached set.
func (b *Badger) Get(ctx context.Context, key string) (*results.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	report, err := results.ParseReport(data)
	if err != nil {
		// A corrupt entry is a miss; it will be overwritten.
		b.logger.Warn("Discarding undecodable cache entry.", zap.String("key", key), zap.Error(err))
		return nil, ErrMiss
	}
	report.Cached = true
	return report, nil
}

// Put stores report under key. The stored copy never has Cached set.
func (b *Badger) Put(ctx context.Context, key string, report *results.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if report == nil {
		return errors.New("report must not be nil")
	}
	stored := *report
	stored.Cached = false
	data, err := stored.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), data)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}
