// Package config loads the intentd runtime configuration from a JSON file,
// expands ${ENV} references, resolves relative paths against the config
// directory and fills defaults for every subsystem.
package config
