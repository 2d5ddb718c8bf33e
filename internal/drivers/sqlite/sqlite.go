package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/sqldriver"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
	_ "modernc.org/sqlite"
)

type sqliteBackend struct {
	sqldriver.Backend
}

var _ internal.Backend = (*sqliteBackend)(nil)
var _ internal.BackendHelp = (*sqliteBackend)(nil)
var _ internal.BackendAlias = (*sqliteBackend)(nil)

func connectToDB(ctx context.Context, urlstr string) (*sql.DB, error) {
	dsn, err := getDSNFromURL(urlstr)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if err := sqldriver.Ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newBackend(db *sql.DB, log logger.Logger) *sqliteBackend {
	return &sqliteBackend{
		Backend: sqldriver.Backend{
			DB:      db,
			Dialect: &dialect{logger: log},
			Logger:  log,
		},
	}
}

// Start the backend. This is called once at the beginning of the backend's lifecycle.
func (p *sqliteBackend) Start(config internal.BackendConfig) error {
	db, err := connectToDB(config.Context, config.URL)
	if err != nil {
		return err
	}
	*p = *newBackend(db, config.Logger)
	return nil
}

// Name is a unique name for the backend.
func (p *sqliteBackend) Name() string {
	return "SQLite"
}

// Description is the description of the backend.
func (p *sqliteBackend) Description() string {
	return "Stores entities in a SQLite database file."
}

// ExampleURL should return an example URL for configuring the backend.
func (p *sqliteBackend) ExampleURL() string {
	return "sqlite:///var/lib/entitydb/data.db"
}

// Help should return a detailed help documentation for the backend.
func (p *sqliteBackend) Help() string {
	var help strings.Builder
	help.WriteString(util.GenerateHelpSection("Schema", "Tables and unique indexes must already exist, one table per entity.\nForeign keys are enforced with PRAGMA foreign_keys.\n"))
	return help.String()
}

func (p *sqliteBackend) Aliases() []string {
	return []string{"file"}
}

// Test is called to test the backend connectivity with the configured url. It should return an error if the test fails or nil if the test passes.
func (p *sqliteBackend) Test(ctx context.Context, logger logger.Logger, url string) error {
	db, err := connectToDB(ctx, url)
	if err != nil {
		return err
	}
	return db.Close()
}

func init() {
	internal.RegisterBackend("sqlite", func() internal.Backend { return &sqliteBackend{} })
}
