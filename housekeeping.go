package main

import (
	"time"

	"github.com/davecheney/solo/workers"
)

type HousekeepingCmd struct {
}

func (h *HousekeepingCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	return workers.Housekeeping(db, ctx.Logger, time.Now())
}
