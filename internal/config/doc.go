// Package config loads, normalizes, and validates logsentinel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files with unknown keys rejected, decodes each
// source's pipeline_stages JSON into typed StageConfig values, and honours the
// LOGSENTINEL_API_KEY environment fallback for the default credential profile.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, resolved prompt files, loaded timezones, and clear
// validation errors.
package config
