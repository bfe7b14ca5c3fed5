// Package store holds the gorm repositories behind every platform table.
// Reads and writes are tenant-scoped by the tenant scope plugin whenever the
// context carries a tenant id.
package store

import (
	"errors"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// notFound converts gorm's not-found into the app's not-found kind.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewNotFoundError(format, args...)
	}
	return err
}
