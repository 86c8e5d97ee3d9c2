package app

import (
	"fmt"

	"github.com/ferrobene/avalia/internal/store"
	"github.com/ferrobene/avalia/internal/store/postgres"
	"github.com/ferrobene/avalia/internal/store/sqlite"
)

func NewStore(config *Config) (store.DeviationStore, error) {
	switch store.DatabaseType(config.Database.Type) {
	case store.DBTypeSQLite:
		return sqlite.NewSQLiteStore(config.Database.DSN)
	case store.DBTypePostgres, "":
		return postgres.NewPostgresStore(config.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}
}
