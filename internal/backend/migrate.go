package backend

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// Migrate applies (up) or reverts (down) the schema migrations in dir
// against the database at url. Running against an up-to-date schema is
// not an error.
func Migrate(url, dir string, up bool) error {
	if url == "" {
		return errors.New("DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("load migrations from %s: %w", dir, err)
	}

	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("[Migrate] Schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("[Migrate] All migrations reverted")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("[Migrate] Done", "version", version, "dirty", dirty)
	return nil
}
