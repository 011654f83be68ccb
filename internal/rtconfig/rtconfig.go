// Package rtconfig loads runtime tunables from a TOML file via
// github.com/BurntSushi/toml. A missing file is not an error: every field
// has a default matching this runtime's compiled-in behavior.
package rtconfig

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"cycleref/internal/rtlog"
	"cycleref/pkg/runtime"
)

// Config holds the tunables this runtime leaves as implementation choices:
// hazard domain sizing, the generation sequence step, and whether the
// moveable-sequence merge-avoidance optimization is enabled.
type Config struct {
	// HazardDomainSlots is the number of intent slots per hazard domain.
	// Must be a power of two; non-power-of-two values are rounded down to
	// the nearest one on Load.
	HazardDomainSlots int `toml:"hazard_domain_slots"`

	// SequenceStep is the increment applied to the generation sequence
	// counter per newly created generation. Must be even, since the low
	// bit is reserved for the moveable flag.
	SequenceStep uint64 `toml:"sequence_step"`

	// MoveableSequenceEnabled toggles fixOrdering's sequence-lowering
	// optimization. Disabling it makes every ordering violation fall
	// through to a real generation merge, useful for isolating a bug to
	// one code path during development.
	MoveableSequenceEnabled bool `toml:"moveable_sequence_enabled"`

	// LogLevel is the minimum zerolog level the runtime emits at.
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration this runtime uses when no file is
// loaded, matching the constants compiled into pkg/hazard and
// pkg/runtime.
func Default() Config {
	return Config{
		HazardDomainSlots:       64,
		SequenceStep:            2,
		MoveableSequenceEnabled: true,
		LogLevel:                "info",
	}
}

// Load reads path and overlays it onto Default(). A missing file returns
// the default configuration with no error; a malformed one returns the
// decode error.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if n := cfg.HazardDomainSlots; n > 0 && n&(n-1) != 0 {
		p := 1
		for p*2 <= n {
			p *= 2
		}
		cfg.HazardDomainSlots = p
	}
	return cfg, nil
}

// Apply pushes cfg's tunables into the packages that own them: the
// logging level into rtlog, and the sequence-numbering tunables into
// pkg/runtime. Call it before creating any Block - pkg/runtime reads
// sequenceStep and moveableSequenceEnabled from package-level atomics
// that Configure overwrites, but generations created before this call
// already have their sequence numbers assigned.
//
// HazardDomainSlots has no live sink: pkg/hazard's domains are sized by a
// package-level var initializer in pkg/runtime, which runs before main()
// can call Apply. Resizing them after the fact would mean turning every
// genDomain/blockDomain reference in pkg/runtime into an indirection
// through a lazily-initialized accessor; not worth the blast radius for a
// tunable that only affects pre-allocation size.
func Apply(cfg Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	rtlog.SetLevel(lvl)

	runtime.Configure(cfg.SequenceStep, cfg.MoveableSequenceEnabled)
}
