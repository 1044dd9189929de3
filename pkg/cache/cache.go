// Package cache is a thin TTL key-value layer over BadgerDB. It backs the
// quota ledger's counters; everything in here is reconstructible from the
// durable store, so losing the cache directory is never data loss.
package cache

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrCacheError is returned when a cache operation fails.
var ErrCacheError = errors.New("cache error")

// Cache is a TTL key-value store.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) a cache at dir. An empty dir opens an in-memory
// cache, which tests use.
func Open(dir string) (*Cache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger at %q: %w", ErrCacheError, dir, err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// GetInt64 reads an integer value. The second return is false when the key
// is absent or expired.
func (c *Cache) GetInt64(key string) (int64, bool, error) {
	var value int64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, parseErr := strconv.ParseInt(string(val), 10, 64)
			if parseErr != nil {
				return parseErr
			}
			value = parsed
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrCacheError, err)
	}
	return value, true, nil
}

// SetInt64 writes an integer value with a TTL. A zero TTL stores the entry
// without expiry.
func (c *Cache) SetInt64(key string, value int64, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(value, 10)))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheError, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %w", ErrCacheError, err)
	}
	return nil
}
