// Package config loads the kernel's single TOML configuration document:
// data directory, plugin directory, log level, the identity acquisition
// policy, and per-plugin configuration blobs.
package config
