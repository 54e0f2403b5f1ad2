// Package config loads and validates grow engine configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GROWCORE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Secrets (JWT secret, broker password, InfluxDB token) should be supplied
// through the environment rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/growcore.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
