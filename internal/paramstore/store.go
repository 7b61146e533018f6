// Package paramstore is the key/value parameter service started next to the
// broker. It shares nothing with the registry and is reached only through its
// own endpoint.
package paramstore

import (
	"errors"
	"fmt"

	"github.com/auraspeak/broker/pkg/protocol"
	badger "github.com/dgraph-io/badger/v3"
	log "github.com/sirupsen/logrus"
)

// Store keeps parameters in Badger. Keys and values are strings.
type Store struct {
	db *badger.DB
}

// Open opens the store under dir, or in memory when dir is empty.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{log.WithField("caller", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open parameter store: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the value of key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return string(value), true, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", protocol.ErrBadRequest)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", protocol.ErrBadRequest)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// List returns every parameter whose key starts with prefix, in key order.
func (s *Store) List(prefix string) ([]protocol.ParamValue, error) {
	out := []protocol.ParamValue{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, protocol.ParamValue{Key: string(item.KeyCopy(nil)), Value: string(value), Found: true})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return out, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes Badger's logging through logrus. Badger is chatty at
// info level, so its info lines are logged at debug.
type badgerLogger struct {
	entry *log.Entry
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.entry.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.entry.Tracef(format, args...) }
