package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GatewayConfig is read from a JSON file at startup. Environment variables
// (optionally via a .env file) override the file values.
type GatewayConfig struct {
	DatabasePath string `json:"database_path"`
}

// resolveConfig validates the configured filename against configDir and
// loads it. A rejected path or unreadable file falls back to the defaults;
// the gateway still starts.
func resolveConfig(configDir, filename string) GatewayConfig {
	path, err := validateConfigPath(configDir, filename)
	if err != nil {
		ErrorLogger.Printf("Refusing config file %s: %v", filename, err)
		return GatewayConfig{DatabasePath: "gateway.db"}
	}

	config, err := loadConfig(path)
	if err != nil {
		ErrorLogger.Printf("Error loading configuration from %s, using defaults: %v", path, err)
	}
	return config
}

func loadConfig(filename string) (GatewayConfig, error) {
	config := GatewayConfig{
		DatabasePath: "gateway.db",
	}

	file, err := os.Open(filename)
	if err != nil {
		return config, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return config, err
	}

	if config.DatabasePath == "" {
		config.DatabasePath = "gateway.db"
	}
	return config, nil
}

// validateConfigPath ensures the config file stays inside configDir and is
// a .json file, rejecting traversal and absolute paths.
func validateConfigPath(configDir, filename string) (string, error) {
	if filepath.Ext(filename) != ".json" {
		return "", fmt.Errorf("config file must have .json extension: %s", filename)
	}

	cleanDir, err := filepath.Abs(configDir)
	if err != nil {
		return "", err
	}

	full := filepath.Join(cleanDir, filename)
	cleanFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(cleanFull, cleanDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("config file %s escapes config directory %s", filename, configDir)
	}
	return cleanFull, nil
}
