// Package config provides application configuration management.
//
// The config package loads the application's configuration from a YAML
// file and CODERUNNER_* environment variables using viper, and validates
// it. It covers the server transport, the sandbox mode and backend,
// workspace and container settings, logging, and per-language toolchains.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox mode: %s\n", cfg.Sandbox.Mode)
package config
