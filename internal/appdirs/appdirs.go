// Package appdirs resolves on-disk locations for engine state: the data
// directory (which holds the config file) and a models directory under it.
package appdirs

import (
	"os"
	"path/filepath"
)

const appDirName = "toolrunner"

// DataDir returns the directory the engine uses for its own state.
// TOOLRUNNER_DATA_DIR overrides the OS default, mainly for tests.
func DataDir() (string, error) {
	if override := os.Getenv("TOOLRUNNER_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// ModelsDir returns the "models" directory under dataDir. The CLI does not
// search it: without an explicit model path it uses the fake backend.
func ModelsDir(dataDir string) string {
	return filepath.Join(dataDir, "models")
}
