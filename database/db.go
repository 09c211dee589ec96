package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/weezyhq/recon/config"
	"github.com/weezyhq/recon/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		ca, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("run-status cache unavailable, reads go straight to the database: %v", errCache)
			ca = nil
		}
		instance = &Datasource{Conn: con, Cache: ca}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createReconciliationTables(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createReconciliationTables bootstraps the schema. Runs are unique per
// (processor, run_date); the version column backs the optimistic check on
// the replace-unresolved write.
func createReconciliationTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE SCHEMA IF NOT EXISTS recon;
		CREATE TABLE IF NOT EXISTS recon.reconciliation_runs (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			processor TEXT NOT NULL,
			run_date DATE NOT NULL,
			status TEXT NOT NULL,
			internal_records INTEGER NOT NULL DEFAULT 0,
			external_records INTEGER NOT NULL DEFAULT 0,
			matched INTEGER NOT NULL DEFAULT 0,
			unmatched_internal INTEGER NOT NULL DEFAULT 0,
			unmatched_external INTEGER NOT NULL DEFAULT 0,
			amount_discrepancies INTEGER NOT NULL DEFAULT 0,
			timing_discrepancies INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			auto_resolved INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			UNIQUE (processor, run_date)
		);
		CREATE TABLE IF NOT EXISTS recon.discrepancies (
			id SERIAL PRIMARY KEY,
			discrepancy_id TEXT NOT NULL UNIQUE,
			run_key TEXT NOT NULL,
			type TEXT NOT NULL,
			processor TEXT NOT NULL,
			run_date DATE NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_discrepancies_run_key ON recon.discrepancies (run_key);
		CREATE INDEX IF NOT EXISTS idx_discrepancies_processor_date ON recon.discrepancies (processor, run_date);
	`)
	return err
}
