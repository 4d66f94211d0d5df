package main

import (
	"github.com/davecheney/solo/models"
)

type AutoMigrateCmd struct {
}

func (a *AutoMigrateCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(models.AllTables()...); err != nil {
		return err
	}
	ctx.Logger.Info("schema migrated", "tables", len(models.AllTables()))
	return nil
}
