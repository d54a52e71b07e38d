// Package storage opens the configured database engine and builds its repositories.
package storage

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/enrollment"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/storage/database"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

const (
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

// Storage is an open database and its repositories.
type Storage struct {
	DB             core.DB
	SQL            *sqlx.DB // nil for the memory engine
	EnrollmentRepo enrollment.Repository
	UserRepo       user.Repository
}

// Open opens the database of conf.Database.Engine. With migrate, a postgres database (and its role, when
// admin credentials are configured) is created if needed and migrated up.
func Open(conf *core.Config, migrate bool) (*Storage, error) {
	switch conf.Database.Engine {
	case EngineMemory:
		db := inmemdb.Open()
		return &Storage{
			DB:             db,
			EnrollmentRepo: inmemdb.NewEnrollmentRepository(db),
			UserRepo:       inmemdb.NewUserRepository(db),
		}, nil

	case EnginePostgres:
		if migrate && conf.Database.AdminUser != "" {
			if err := database.CreateIfNotExist(conf); err != nil {
				return nil, err
			}
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err = database.Migrate(db, "up"); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &Storage{
			DB:             db,
			SQL:            db,
			EnrollmentRepo: sqlxrepos.NewEnrollmentRepository(db),
			UserRepo:       sqlxrepos.NewUserRepository(db),
		}, nil
	}
	return nil, errors.Errorf("unknown database engine %q", conf.Database.Engine)
}

func (s *Storage) Close() error {
	return s.DB.Close()
}
