package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/sqldriver"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

type postgresqlBackend struct {
	sqldriver.Backend
}

var _ internal.Backend = (*postgresqlBackend)(nil)
var _ internal.BackendHelp = (*postgresqlBackend)(nil)
var _ internal.BackendAlias = (*postgresqlBackend)(nil)

// driverName returns the database/sql driver for the url scheme, pgx:// uses the pgx stdlib driver.
func driverName(urlstr string) (string, string, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", "", fmt.Errorf("error parsing postgres db url: %w", err)
	}
	driver := "postgres"
	if u.Scheme == "pgx" {
		driver = "pgx"
	}
	connstr, err := getConnectionStringFromURL(urlstr)
	if err != nil {
		return "", "", err
	}
	return driver, connstr, nil
}

func connectToDB(ctx context.Context, url string) (*sql.DB, error) {
	driver, connstr, err := driverName(url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection: %w", err)
	}
	if err := sqldriver.Ping(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newBackend(db *sql.DB, log logger.Logger) *postgresqlBackend {
	return &postgresqlBackend{
		Backend: sqldriver.Backend{
			DB:      db,
			Dialect: &dialect{logger: log},
			Logger:  log,
		},
	}
}

// Start the backend. This is called once at the beginning of the backend's lifecycle.
func (p *postgresqlBackend) Start(config internal.BackendConfig) error {
	db, err := connectToDB(config.Context, config.URL)
	if err != nil {
		return err
	}
	*p = *newBackend(db, config.Logger)
	return nil
}

// Name is a unique name for the backend.
func (p *postgresqlBackend) Name() string {
	return "PostgreSQL"
}

// Description is the description of the backend.
func (p *postgresqlBackend) Description() string {
	return "Stores entities in a PostgreSQL (or CockroachDB) database."
}

// ExampleURL should return an example URL for configuring the backend.
func (p *postgresqlBackend) ExampleURL() string {
	return "postgres://localhost:5432/database"
}

// Help should return a detailed help documentation for the backend.
func (p *postgresqlBackend) Help() string {
	var help strings.Builder
	help.WriteString(util.GenerateHelpSection("Schema", "Tables and unique indexes must already exist, one table per entity.\n"))
	help.WriteString("\n")
	help.WriteString(util.GenerateHelpSection("Drivers", "postgres:// uses lib/pq, pgx:// uses the pgx driver.\n"))
	return help.String()
}

func (p *postgresqlBackend) Aliases() []string {
	return []string{"postgresql", "pgx", "cockroach"}
}

// Test is called to test the backend connectivity with the configured url. It should return an error if the test fails or nil if the test passes.
func (p *postgresqlBackend) Test(ctx context.Context, logger logger.Logger, url string) error {
	db, err := connectToDB(ctx, url)
	if err != nil {
		return err
	}
	return db.Close()
}

func init() {
	internal.RegisterBackend("postgres", func() internal.Backend { return &postgresqlBackend{} })
}
