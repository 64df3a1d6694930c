// Package config loads pexelsync settings from defaults, a YAML file,
// environment variables and command line flags, in that order of
// increasing precedence.
package config
