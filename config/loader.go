package config

// loader.go - configuration loading from files and environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Load builds a Config from defaults, the optional file at path and the
// environment.  Finalize and Validate are left to the caller so CLI
// flags can be applied in between.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the JSON document at path onto cfg.  Keys missing
// from the file keep their current value; unknown keys are an error.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	err = overlay(cfg, func() error { return decodeJSON(cfg, data) })
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return nil
}

func decodeJSON(cfg *Config, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SPROXY_ prefix, e.g. SPROXY_BIND,
// SPROXY_TLS_CERT, SPROXY_API_PORT.  Lists are comma separated.

// LoadFromEnv overlays environment variables onto cfg.  Only variables
// that are set override the existing value.  This should be called
// BEFORE CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) error {
	err := overlay(cfg, func() error {
		return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
	})
	if err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// overlay runs apply and then passes any custom-diff it wrote through
// SetCustomDiff, so an out-of-range value keeps the previous one.
func overlay(cfg *Config, apply func() error) error {
	prev := cfg.CustomDiff
	if err := apply(); err != nil {
		return err
	}
	next := cfg.CustomDiff
	cfg.CustomDiff = prev
	cfg.SetCustomDiff(next)
	return nil
}
