package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// recordPrefix namespaces record keys: "rec:" + big-endian timestamp + seq,
// so a prefix scan returns records in capture order.
var recordPrefix = []byte("rec:")

// BadgerStoreConfig configures a BadgerStore.
type BadgerStoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the database in memory only.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every append.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// BadgerStore persists records in a local badger database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens or creates the database.
func NewBadgerStore(cfg BadgerStoreConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger capture store: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture database at %q: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Name() string { return "badger" }

func recordKey(r *Record) []byte {
	key := make([]byte, 0, len(recordPrefix)+16)
	key = append(key, recordPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(r.Timestamp))
	return binary.BigEndian.AppendUint64(key, r.Seq)
}

// Append writes records in one write batch.
func (s *BadgerStore) Append(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range records {
		val, err := MarshalRecord(&records[i])
		if err != nil {
			return err
		}
		if err := wb.Set(recordKey(&records[i]), val); err != nil {
			return fmt.Errorf("stage record %d: %w", records[i].Seq, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush capture batch: %w", err)
	}
	return nil
}

// Iterate scans records in key order.
func (s *BadgerStore) Iterate(ctx context.Context, fn func(Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(recordPrefix); it.ValidForPrefix(recordPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec Record
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("read %x: %w", it.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of stored records.
func (s *BadgerStore) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
