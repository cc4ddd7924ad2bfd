package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketEntries = []byte("entries")

// boltEnvelope wraps stored bytes with an expiry timestamp. Expiry is
// enforced lazily on read and periodically by the sweep.
type boltEnvelope struct {
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e boltEnvelope) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// BoltStore is a durable local Store backed by BoltDB.
type BoltStore struct {
	opts   Options
	db     *bolt.DB
	stopCh chan struct{}
}

// NewBoltStore opens (or creates) a BoltDB-backed store in dataDir.
func NewBoltStore(dataDir string, opts Options) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "forager.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	s := &BoltStore{opts: opts, db: db, stopCh: make(chan struct{})}
	go s.sweep(defaultSweepInterval)
	return s, nil
}

func (s *BoltStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			_ = s.db.Update(func(tx *bolt.Tx) error {
				b := tx.Bucket(bucketEntries)
				c := b.Cursor()
				for k, v := c.First(); k != nil; k, v = c.Next() {
					var env boltEnvelope
					if json.Unmarshal(v, &env) == nil && env.expired(now) {
						if err := c.Delete(); err != nil {
							return err
						}
					}
				}
				return nil
			})
		case <-s.stopCh:
			return
		}
	}
}

func (s *BoltStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := s.opts.serializer().Marshal(value)
	if err != nil {
		return err
	}

	env := boltEnvelope{Data: data}
	if d := s.opts.effectiveTTL(ttl); d > 0 {
		env.ExpiresAt = time.Now().Add(d)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(s.opts.fullKey(key)), raw)
	})
}

func (s *BoltStore) load(key string) (*boltEnvelope, error) {
	var env *boltEnvelope
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEntries).Get([]byte(s.opts.fullKey(key)))
		if raw == nil {
			return nil
		}
		var e boltEnvelope
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		env = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if env == nil || env.expired(time.Now()) {
		return nil, nil
	}
	return env, nil
}

func (s *BoltStore) Get(ctx context.Context, key string, out any) (bool, error) {
	env, err := s.load(key)
	if err != nil || env == nil {
		return false, err
	}
	if err := s.opts.serializer().Unmarshal(env.Data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BoltStore) Delete(ctx context.Context, key string) (bool, error) {
	env, err := s.load(key)
	if err != nil {
		return false, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(s.opts.fullKey(key)))
	})
	return env != nil, err
}

func (s *BoltStore) Exists(ctx context.Context, key string) (bool, error) {
	env, err := s.load(key)
	return env != nil, err
}

func (s *BoltStore) RangeGet(ctx context.Context, start, end string, limit int) ([]Pair, error) {
	fullStart := []byte(s.opts.fullKey(start))
	var fullEnd []byte
	if end != "" {
		fullEnd = []byte(s.opts.fullKey(end))
	}
	var keyPrefix []byte
	if s.opts.Prefix != "" {
		keyPrefix = []byte(s.opts.Prefix + ":")
	}

	now := time.Now()
	var pairs []Pair

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(fullStart); k != nil; k, v = c.Next() {
			// An open-ended scan stops at the prefix namespace boundary;
			// the bucket may hold keys written under other prefixes.
			if keyPrefix != nil && !bytes.HasPrefix(k, keyPrefix) {
				break
			}
			if fullEnd != nil && bytes.Compare(k, fullEnd) >= 0 {
				break
			}
			var env boltEnvelope
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			if env.expired(now) {
				continue
			}
			pairs = append(pairs, Pair{Key: s.stripPrefix(string(k)), Value: env.Data})
			if limit > 0 && len(pairs) >= limit {
				break
			}
		}
		return nil
	})
	return pairs, err
}

func (s *BoltStore) stripPrefix(full string) string {
	if s.opts.Prefix == "" {
		return full
	}
	return full[len(s.opts.Prefix)+1:]
}

func (s *BoltStore) DecodeInto(data []byte, out any) error {
	return s.opts.serializer().Unmarshal(data, out)
}

func (s *BoltStore) Close() error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	return s.db.Close()
}
