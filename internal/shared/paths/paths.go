package paths

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the base data directory. DATA_DIR overrides the
// default location next to the executable.
func GetDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	if execPath, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(execPath), "data")
	}
	return "data"
}

func GetDBPath() string {
	return filepath.Join(GetDataDir(), "local.db")
}

func GetScriptsDir() string {
	return filepath.Join(GetDataDir(), "scripts")
}

// EnsureDataDirs creates the data directories if they do not exist.
func EnsureDataDirs() error {
	for _, dir := range []string{GetDataDir(), GetScriptsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
