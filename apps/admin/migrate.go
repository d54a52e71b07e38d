package main

import (
	"errors"

	"github.com/trezcool/shule/storage/database"
)

var (
	migrateFunc = database.Migrate // mockable

	errNoSQLDatabase = errors.New("migrations need the postgres database engine")
)

func (cli *commandLine) migrate(args []string) error {
	if cli.st.SQL == nil {
		return errNoSQLDatabase
	}
	return migrateFunc(cli.st.SQL, args[0], args[1:]...)
}
