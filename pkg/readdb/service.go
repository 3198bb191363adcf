// ReadDB holds the history of meter reads received from the MTU API.
// It should only be written to by read_collector but can be read by any
// service.
package readdb

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/NotCoffee418/water_meter_mtu/pkg/pathing"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

var (
	db     *sql.DB
	dbErr  error
	once   sync.Once
	dbPath string
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SetPath overrides the database location. Must be called before the first
// GetDB.
func SetPath(path string) {
	dbPath = path
}

// InitializeDatabase must be called manually on startup
func InitializeDatabase() error {
	// Create DB before migrations
	db, err := GetDB()
	if err != nil {
		return err
	}
	if _, err := db.Exec("SELECT 1;"); err != nil {
		log.Warnf("Could not create DB: %v", err)
	}

	// Apply migrations
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)
	return nil
}

func GetDB() (*sql.DB, error) {
	once.Do(func() {
		path := dbPath
		if path == "" {
			path = pathing.GetReadDbPath()
		}
		db, dbErr = sql.Open("sqlite", path)
		if dbErr != nil {
			return
		}
		// Single writer, avoids SQLITE_BUSY from the aggregator
		db.SetMaxOpenConns(1)
		// Verify connection
		if err := db.Ping(); err != nil {
			dbErr = fmt.Errorf("open read db %s: %w", path, err)
		}
	})
	return db, dbErr
}
