package pathing

import (
	"os"
	"path/filepath"
)

// EnsureDirs creates the config and data directories when missing.
func EnsureDirs() error {
	// Directories that must exist:
	dirs := []string{
		GetConfigDir(),
		GetDataDir(),
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}
	return nil
}

func GetReadDbPath() string {
	return filepath.Join(GetDataDir(), "mtu-reads.db")
}

func GetDataDir() string {
	if dir := os.Getenv("WATER_METER_MTU_DATA_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/water_meter_mtu"
}

func GetConfigDir() string {
	if dir := os.Getenv("WATER_METER_MTU_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/water_meter_mtu"
}
