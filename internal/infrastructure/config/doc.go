// Package config loads the gateway configuration.
//
// Load applies built-in defaults, then the YAML file, then GRAYLOGIC_*
// environment variables, and finally Validate, which reports every problem
// at once joined with "; ". Secrets (JWT secret, MQTT password, InfluxDB
// token) are expected from the environment.
//
// Durations in the commissioning and subsystems sections use Go syntax
// ("2m", "500ms"); the older sections keep integer seconds.
package config
