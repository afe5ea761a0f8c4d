// Package config loads the chat client's runtime settings from defaults,
// an optional JSON file, and command-line flags, in that order of
// precedence.
package config
