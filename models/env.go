package models

import (
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// Env is the environment shared by every component that touches the store.
type Env struct {
	// DB is the database connection.
	DB     *gorm.DB
	Logger *slog.Logger
}

func (e *Env) Log() *slog.Logger {
	return e.Logger
}

// Transaction runs fn in a transaction. When e.DB is already a transaction
// fn runs inside a savepoint.
func (e *Env) Transaction(fn func(tx *gorm.DB) error) error {
	return e.DB.Transaction(fn)
}
