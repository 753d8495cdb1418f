// Package config provides configuration loading and validation for the utterance service.
// It reads a YAML file on top of built-in defaults, so a missing file still yields a
// runnable configuration, and validates every section before the service starts.
package config
