package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveConfigPath accepts either a config.json file or a model directory
// holding one.
func resolveConfigPath(path string) (string, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}
	candidate := filepath.Join(path, "config.json")
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("no config.json in %s", path)
	}
	return candidate, nil
}
