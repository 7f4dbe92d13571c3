package engine

import (
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
)

// Config tunes the engine's resource budgets and I/O mode. Zero-valued
// fields are filled from DefaultConfig by NewConfig, the way the teacher's
// vcfg layer merges a partially-specified document over built-in defaults.
type Config struct {
	// MaxInodes bounds how many inodes may be open (admitted but not yet
	// fully delivered) at once.
	MaxInodes int
	// MaxBlocks is the queued-block budget across all open inodes, carried
	// for parity with the original design. NewConfig validates it; nothing
	// else in the engine reads it: no per-inode share is computed from it,
	// and the scheduler's admitBudgetCheck hook admits every block.
	MaxBlocks int
	// CoalesceDistance is the maximum physical-block gap two BlockRecs may
	// straddle and still share one stripe read. A nil value means "use the
	// default"; spec-legal values include 0 (adjacent-only striping), so
	// the zero value of uint64 cannot itself mean "unset" the way it does
	// for MaxInodes/MaxBlocks.
	CoalesceDistance *uint64
	// Direct requests O_DIRECT reads, 512-byte aligned buffers and lengths.
	Direct bool
	// Profile is carried for the caller; the engine itself does not read
	// it. Progress is reported whenever Progress is set, and the seek-cost
	// summary is printed by cmd/dj from the returned Stats.
	Profile bool
	// Logger receives Soft-I/O and Advisory diagnostics (short reads, a
	// failed posix_fadvise). Fatal errors are returned, not logged. A nil
	// Logger means the engine stays silent except for returned errors.
	Logger Logger
	// Progress, when non-nil, receives stripe-count increments and a final
	// Finish; the caller supplies it already bound to a logical unit total.
	Progress progressSink
}

// Logger is the narrow slice of pkg/elog.View the engine depends on.
type Logger interface {
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// DefaultConfig returns the budgets the original implementation shipped
// with: 100 open inodes, 128000 queued blocks, a coalesce distance of one
// block.
func DefaultConfig() Config {
	return Config{
		MaxInodes:        100,
		MaxBlocks:        128000,
		CoalesceDistance: Uint64Ptr(1),
	}
}

// Uint64Ptr returns a pointer to v, for populating Config.CoalesceDistance
// (including with the legal value 0) without a throwaway local variable.
func Uint64Ptr(v uint64) *uint64 { return &v }

// NewConfig merges partial over DefaultConfig() and validates the result.
//
// CoalesceDistance is merged by hand rather than left to mergo: mergo's
// WithOverride walks into a pointer field and applies its "only override
// with a non-empty value" rule to the *pointee*, so a partial value of
// Uint64Ptr(0) is treated the same as an empty/unset uint64 and the
// default of 1 survives instead of being replaced — exactly the case this
// field's pointer type exists to make representable. A plain nil check
// on the pointer itself has no such blind spot.
func NewConfig(partial Config) (Config, error) {
	cfg := DefaultConfig()
	coalesce := partial.CoalesceDistance
	if err := mergo.Merge(&cfg, partial, mergo.WithOverride); err != nil {
		return Config{}, errors.Wrap(err, "merge engine configuration")
	}
	if coalesce != nil {
		cfg.CoalesceDistance = coalesce
	}
	if cfg.MaxInodes < 1 {
		return Config{}, &FatalConfigError{Op: "validate configuration", Err: errors.New("max_inodes must be >= 1")}
	}
	if cfg.MaxBlocks < 1 {
		return Config{}, &FatalConfigError{Op: "validate configuration", Err: errors.New("max_blocks must be >= 1")}
	}
	return cfg, nil
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

func (cfg Config) logger() Logger {
	if cfg.Logger == nil {
		return nopLogger{}
	}
	return cfg.Logger
}
