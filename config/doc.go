// Package config loads the service configuration from defaults, a YAML
// file and CONVOFLOW_* environment variables.
package config
