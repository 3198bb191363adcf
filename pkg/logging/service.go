// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup applies the level name from config. Empty means info.
func Setup(level string) error {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)
	return nil
}
