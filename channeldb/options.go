package channeldb

import (
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
)

const (
	// DefaultDBTimeout is how long opening the bolt file waits for the
	// file lock before giving up.
	DefaultDBTimeout = kvdb.DefaultDBTimeout
)

// Options holds parameters for tuning and customizing a channeldb.DB.
type Options struct {
	// NoFreelistSync disables syncing of the bolt freelist to disk.
	NoFreelistSync bool

	// DBTimeout is the time to wait for the bolt file lock.
	DBTimeout time.Duration

	// ReadOnly opens the bolt file without write access. Used by the
	// operator CLI for inspection.
	ReadOnly bool
}

// DefaultOptions returns an Options populated with default values.
func DefaultOptions() Options {
	return Options{
		NoFreelistSync: true,
		DBTimeout:      DefaultDBTimeout,
	}
}

// OptionModifier is a function signature for modifying the default Options.
type OptionModifier func(*Options)

// OptionSetDBTimeout sets the bolt file lock timeout.
func OptionSetDBTimeout(timeout time.Duration) OptionModifier {
	return func(o *Options) {
		o.DBTimeout = timeout
	}
}

// OptionReadOnly opens the database without write access.
func OptionReadOnly(readOnly bool) OptionModifier {
	return func(o *Options) {
		o.ReadOnly = readOnly
	}
}

// OptionNoFreelistSync toggles syncing of the bolt freelist to disk.
func OptionNoFreelistSync(noFreelistSync bool) OptionModifier {
	return func(o *Options) {
		o.NoFreelistSync = noFreelistSync
	}
}
