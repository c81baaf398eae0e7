// Package config loads and validates the taskmesh configuration from
// defaults, an optional YAML file, and environment variable overrides, in
// that order of precedence. A polling file watcher supports reacting to
// config file changes at runtime.
package config
