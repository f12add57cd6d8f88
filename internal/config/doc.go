// Package config loads, normalizes, and validates ffqueue configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FFQUEUE_FFMPEG and FFQUEUE_API_TOKEN. The Config type centralizes every knob
// the daemon and CLI need: directories, concurrency caps, sync history, the
// encoder binaries, and the preset catalogue used to validate new jobs.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
