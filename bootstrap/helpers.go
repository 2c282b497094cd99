package bootstrap

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// EnsureDataDirectories creates the data directory if it does not exist.
// Called as a pre-flight check so storage initialization never races mkdir.
func EnsureDataDirectories(dataDir string, sugar *zap.SugaredLogger) error {
	if dataDir == "" {
		dataDir = "./data"
	}

	info, err := os.Stat(dataDir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("data path %s exists but is not a directory", dataDir)
		}
		return nil
	}

	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat data directory %s: %w", dataDir, err)
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	sugar.Infof("Created data directory: %s", dataDir)
	return nil
}
