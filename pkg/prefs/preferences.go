package prefs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
	"github.com/markus-lassfolk/trackhub/pkg/utils"
)

// PreferencesBucket holds one JSON encoded value per key
const PreferencesBucket = "preferences"

var _ hub.PreferenceStore = (*Store)(nil)

// Store is a persisted key/value preference store backed by bbolt. Writes
// that change a value notify subscribers with the key.
type Store struct {
	db       *bolt.DB
	logger   *logx.Logger
	notifier utils.Notifier
}

// Open opens or creates the preference database at path
func Open(path string, logger *logx.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preferences directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(PreferencesBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize preferences bucket: %w", err)
	}

	logger.Info("preferences_opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Subscribe registers fn for changed keys
func (s *Store) Subscribe(fn func(key string)) func() {
	return s.notifier.Subscribe(fn)
}

func (s *Store) get(key string, v interface{}) bool {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(PreferencesBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to read preference", "key", key, "error", err)
		return false
	}
	return found
}

func (s *Store) set(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode preference %s: %w", key, err)
	}

	changed := false
	if err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(PreferencesBucket))
		if bytes.Equal(bucket.Get([]byte(key)), data) {
			return nil
		}
		changed = true
		return bucket.Put([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("failed to store preference %s: %w", key, err)
	}

	if changed {
		s.logger.Debug("preference changed", "key", key, "value", string(data))
		s.notifier.Notify(key)
	}
	return nil
}

// GetInt64 returns the value of key or def
func (s *Store) GetInt64(key string, def int64) int64 {
	var v int64
	if !s.get(key, &v) {
		return def
	}
	return v
}

// GetInt returns the value of key or def
func (s *Store) GetInt(key string, def int) int {
	var v int
	if !s.get(key, &v) {
		return def
	}
	return v
}

// GetBool returns the value of key or def
func (s *Store) GetBool(key string, def bool) bool {
	var v bool
	if !s.get(key, &v) {
		return def
	}
	return v
}

// GetString returns the value of key or def
func (s *Store) GetString(key string, def string) string {
	var v string
	if !s.get(key, &v) {
		return def
	}
	return v
}

func (s *Store) SetInt64(key string, value int64) error { return s.set(key, value) }
func (s *Store) SetInt(key string, value int) error     { return s.set(key, value) }
func (s *Store) SetBool(key string, value bool) error   { return s.set(key, value) }
func (s *Store) SetString(key, value string) error      { return s.set(key, value) }

// Delete removes key. Subscribers are notified if it existed.
func (s *Store) Delete(key string) error {
	existed := false
	if err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(PreferencesBucket))
		existed = bucket.Get([]byte(key)) != nil
		return bucket.Delete([]byte(key))
	}); err != nil {
		return err
	}
	if existed {
		s.notifier.Notify(key)
	}
	return nil
}

// Clear removes every key and notifies subscribers once with an empty key.
func (s *Store) Clear() error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(PreferencesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(PreferencesBucket))
		return err
	}); err != nil {
		return err
	}
	s.notifier.Notify("")
	return nil
}

// Keys returns every stored key in order
func (s *Store) Keys() []string {
	var keys []string
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(PreferencesBucket)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	sort.Strings(keys)
	return keys
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
