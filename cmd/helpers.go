package cmd

import (
	"github.com/vulndb-tools/vdbctl/internal/log"
	"github.com/vulndb-tools/vdbctl/internal/vdb/config"
)

// mustLoadConfig loads the configuration or exits with a fatal error
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	return cfg
}
