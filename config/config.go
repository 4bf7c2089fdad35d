// Package config holds the tunable limits of an engine instance. Engines may
// be built with compiled-in defaults or with an EngineConfig loaded from a
// TOML file, in the same spirit as the TOML-based structured data files the
// engine's domain cousins use for their own configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// EngineConfig carries the knobs spec.md §5 and §9 leave open: the
// score-merge epsilon, the hard cap on surviving paths per ambiguity, and the
// optional path/step/memory budgets that, when exceeded, fail a parse with
// PathExplosion, Budget, or ArenaExhausted respectively.
type EngineConfig struct {
	// MergeEpsilon is the maximum absolute score difference at which two
	// lexer paths at the same (line, column) with equal token-count are
	// considered equivalent and merged. Spec.md §9(a) calls this ad hoc;
	// 0.1 is the reference value.
	MergeEpsilon float64 `toml:"merge_epsilon"`

	// MaxAmbiguousPaths is the hard cap on surviving parser paths spawned by
	// one ambiguous step, per spec.md §4.5 and §9(b). The reference value is
	// 3 (one chosen in place, up to two forked alternatives).
	MaxAmbiguousPaths int `toml:"max_ambiguous_paths"`

	// MaxPaths is the maximum number of live lexer or parser paths allowed
	// at once before a parse fails with PathExplosion. Zero means no cap.
	MaxPaths int `toml:"max_paths"`

	// MaxSteps is the maximum number of next_tokens/drive-token steps a
	// single parse may take before it fails with Budget. Zero means no cap.
	MaxSteps int `toml:"max_steps"`

	// ArenaHardCapBytes is the byte ceiling past which the arena refuses to
	// grow and returns ArenaExhausted. Zero means no cap.
	ArenaHardCapBytes int64 `toml:"arena_hard_cap_bytes"`

	// SurfacePathTokens controls whether the lexer emits LEXERPATH_REMOVED
	// and LEXERPATH_MERGE control tokens into the batch stream (spec.md
	// §4.4 step 1 and 2). Most embedders leave this off.
	SurfacePathTokens bool `toml:"surface_path_tokens"`
}

// Default returns the engine's compiled-in configuration, used whenever no
// file is supplied.
func Default() EngineConfig {
	return EngineConfig{
		MergeEpsilon:      0.1,
		MaxAmbiguousPaths: 3,
		MaxPaths:          0,
		MaxSteps:          0,
		ArenaHardCapBytes: 0,
		SurfacePathTokens: false,
	}
}

// Load reads an EngineConfig from a TOML file at path, starting from
// Default() so that a file which only overrides some keys still produces a
// fully-populated config.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading engine config: %w", err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing engine config: %w", err)
	}

	return cfg, nil
}
