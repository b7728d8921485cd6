// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and EDABOX_* environment variables. It covers
// the MCP server, the execution engine, the plotting handle, the dataset
// memory store, the code-generation collaborator, logging and metrics.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
