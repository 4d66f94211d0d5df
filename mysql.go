//go:build !sqlite

package main

import (
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newDialector(dsn string) gorm.Dialector {
	return mysql.New(mysql.Config{
		DSN: mergeOptions(dsn, "charset=utf8mb4&parseTime=True&loc=UTC"),
	})
}

// mergeOptions appends options to dsn, unless dsn already carries some.
func mergeOptions(dsn, options string) string {
	switch {
	case options == "":
		return dsn
	case strings.Contains(dsn, "?"):
		return dsn
	default:
		return dsn + "?" + options
	}
}

func configureDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}
