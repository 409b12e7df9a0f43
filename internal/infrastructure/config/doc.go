// Package config handles loading and validating hubrelay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with HUBRELAY_* environment variables
//   - Validation of required fields, collected into one error
//   - Default value handling
//
// Security Considerations:
//   - The hub token should be set via HUBRELAY_HUB_TOKEN rather than the file
//   - Expired JWT hub tokens are rejected at load time instead of failing
//     the first streaming handshake
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hub.URL)
package config
