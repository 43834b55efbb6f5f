// Package config loads the gateway's YAML configuration.
//
// Files support ${VAR} environment variable interpolation, so secrets such as
// api.api_secret can stay out of the file. Durations use Go syntax ("5s",
// "10m"). A cache class with a TTL of 0 is never cached.
package config
