// Package config loads, normalizes, and validates mediadesk configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MEDIADESK_WORKER_API_KEY. The Config type centralizes every knob the runner
// and CLI need so the state directory, workspace root and worker credentials
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
