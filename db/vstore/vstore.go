package vstore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
)

/*
	Durable backing for serialized volumes. Each volume is one opaque
	value under a prefixed key; the engine owns the live in-memory form
	and writes the serialized bytes through here after every successful
	mutation. A persisted counter hands out volume ids.
*/

const (
	volumePrefix = "vol:"
	seqKey       = "sys:volume-seq"
)

type Config struct {
	Logger    *slog.Logger
	Directory string
}

// VStore is the persistence boundary of the engine.
type VStore interface {
	Load(key string) ([]byte, error)
	Save(key string, raw []byte) error
	Delete(key string) error
	Keys(prefix string, offset int, limit int) ([]string, error)
	NextVolumeID() (uint64, error)
	Close() error
}

type vstore struct {
	logger *slog.Logger
	db     *badger.DB
}

var _ VStore = &vstore{}

func New(config Config) (VStore, error) {
	dir := filepath.Join(config.Directory, "volumes")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(newStoreLogger(config.Logger.WithGroup("store"))).
		WithLoggingLevel(badger.WARNING).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	return &vstore{
		logger: config.Logger.WithGroup("vstore"),
		db:     db,
	}, nil
}

func (s *vstore) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing volume db", "error", err)
		return &ErrInternal{Err: err}
	}
	return nil
}

func (s *vstore) Load(key string) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(volumePrefix + key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &ErrVolumeNotFound{Key: key}
			}
			return &ErrInternal{Err: err}
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *vstore) Save(key string, raw []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(volumePrefix+key), raw); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *vstore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(volumePrefix + key)); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
}

func (s *vstore) Keys(prefix string, offset int, limit int) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		fullPrefix := []byte(volumePrefix + prefix)
		skipped := 0
		collected := 0
		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && collected >= limit {
				break
			}
			keys = append(keys, string(it.Item().Key())[len(volumePrefix):])
			collected++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// NextVolumeID bumps and persists the monotonic volume counter.
func (s *vstore) NextVolumeID() (uint64, error) {
	var id uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(seqKey))
		if err == nil {
			raw, verr := item.ValueCopy(nil)
			if verr != nil {
				return &ErrInternal{Err: verr}
			}
			if len(raw) == 8 {
				for i := 0; i < 8; i++ {
					id |= uint64(raw[i]) << (8 * i)
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return &ErrInternal{Err: err}
		}
		id++
		raw := make([]byte, 8)
		for i := 0; i < 8; i++ {
			raw[i] = byte(id >> (8 * i))
		}
		if err := txn.Set([]byte(seqKey), raw); err != nil {
			return &ErrInternal{Err: err}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
