// Package config handles loading and validating vendorsync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Vendor passwords and the InfluxDB token should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/vendorsync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, name := range cfg.Vendor.ServerNames() {
//	    fmt.Println(name, cfg.Vendor.Servers[name].Host)
//	}
package config
