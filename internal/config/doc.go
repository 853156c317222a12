// Package config loads, normalizes, and validates dramapipe configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: data/staging directories, the Redis broker URI,
// provider credentials for script, voice, assembly, and publish stages, and
// the retry/lease budgets that govern pipeline execution.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
