package channeldb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	dbName           = "channel.db"
	dbFilePermission = 0700
)

var (
	// openChannelBucket stores every channel that has not been forgotten,
	// keyed by its temporary id.
	openChannelBucket = []byte("open-channels")
)

// ChannelRecord is a channel as it was last persisted, along with the id of
// the state it was in.
type ChannelRecord struct {
	State   string
	Channel *Channel
}

// DB is the store of channels that are being opened. Each channel is written
// after every transition that advanced it.
type DB struct {
	kvdb.Backend

	dbPath string
}

// Open opens or creates the channel database found within dbPath.
func Open(dbPath string, modifiers ...OptionModifier) (*DB, error) {
	opts := DefaultOptions()
	for _, modifier := range modifiers {
		modifier(&opts)
	}

	path := filepath.Join(dbPath, dbName)

	// A read-only handle never creates the file.
	openFn := kvdb.Open
	if !opts.ReadOnly {
		err := os.MkdirAll(dbPath, dbFilePermission)
		if err != nil {
			return nil, err
		}
		openFn = kvdb.Create
	}

	backend, err := openFn(
		kvdb.BoltBackendName, path, opts.NoFreelistSync,
		opts.DBTimeout, opts.ReadOnly,
	)
	if err != nil {
		return nil, err
	}

	return CreateWithBackend(backend, dbPath, modifiers...)
}

// CreateWithBackend wraps an already opened backend and makes sure the
// top-level buckets exist.
func CreateWithBackend(backend kvdb.Backend, dbPath string,
	modifiers ...OptionModifier) (*DB, error) {

	opts := DefaultOptions()
	for _, modifier := range modifiers {
		modifier(&opts)
	}

	chanDB := &DB{
		Backend: backend,
		dbPath:  dbPath,
	}

	if opts.ReadOnly {
		return chanDB, nil
	}

	err := kvdb.Update(backend, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(openChannelBucket)
		return err
	}, func() {})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("unable to create channel bucket: %w",
			err)
	}

	return chanDB, nil
}

// Path returns the directory the database was opened in.
func (d *DB) Path() string {
	return d.dbPath
}

// SaveChannel writes the channel and the id of its current state. An
// existing record for the same temporary id is overwritten.
func (d *DB) SaveChannel(state string, c *Channel) error {
	var b bytes.Buffer
	if err := serializeChannel(&b, state, c); err != nil {
		return err
	}

	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(openChannelBucket)
		if bucket == nil {
			return ErrNoChannelBucket
		}

		return bucket.Put(chanKey(c.TemporaryID), b.Bytes())
	}, func() {})
}

// RemoveChannel deletes the channel with the given temporary id.
func (d *DB) RemoveChannel(tempID [32]byte) error {
	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(openChannelBucket)
		if bucket == nil {
			return ErrNoChannelBucket
		}

		if bucket.Get(chanKey(tempID)) == nil {
			return ErrChannelNotFound
		}

		return bucket.Delete(chanKey(tempID))
	}, func() {})
}

// FetchChannel returns the channel with the given temporary id.
func (d *DB) FetchChannel(tempID [32]byte) (*ChannelRecord, error) {
	var record *ChannelRecord
	err := kvdb.View(d, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(openChannelBucket)
		if bucket == nil {
			return ErrNoChannelBucket
		}

		v := bucket.Get(chanKey(tempID))
		if v == nil {
			return ErrChannelNotFound
		}

		state, c, err := deserializeChannel(bytes.NewReader(v))
		if err != nil {
			return err
		}
		record = &ChannelRecord{State: state, Channel: c}

		return nil
	}, func() {
		record = nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// FetchChannels returns every stored channel.
func (d *DB) FetchChannels() ([]*ChannelRecord, error) {
	var records []*ChannelRecord
	err := kvdb.View(d, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(openChannelBucket)
		if bucket == nil {
			return ErrNoChannelBucket
		}

		return bucket.ForEach(func(k, v []byte) error {
			state, c, err := deserializeChannel(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("unable to decode channel "+
					"%x: %w", k, err)
			}

			records = append(records, &ChannelRecord{
				State:   state,
				Channel: c,
			})

			return nil
		})
	}, func() {
		records = nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Fetched %d channels from %v", len(records), d.dbPath)

	return records, nil
}
