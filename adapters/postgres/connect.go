package postgres

import (
	"context"

	"beaconrig/internal/errors"
	"beaconrig/internal/migration"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the results database and brings its schema up to date
func Connect(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	if databaseURL == "" {
		return nil, errors.ConfigInvalid("DATABASE_URL is required")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to connect to database"))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to ping database"))
	}

	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database migration failed")
	}
	return db, nil
}
