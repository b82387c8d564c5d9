package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/storykeep/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// When one of them already holds a config.yaml only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "storykeep"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "storykeep"),
			"/etc/storykeep",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}
