// Package config handles loading and validating monomed configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MONOMED_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/monomed.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.SerialOSC.DaemonPort)
package config
