package main

import (
	"github.com/davecheney/solo/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

type RecountCmd struct {
}

func (r *RecountCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	objects := models.NewObjects(db, ctx.Node.BaseURL)
	inbox, err := recountReplies(db, objects, ctx.Logger, func(o *models.InboxObject) string { return o.APID })
	if err != nil {
		return err
	}
	outbox, err := recountReplies(db, objects, ctx.Logger, func(o *models.OutboxObject) string { return o.APID })
	if err != nil {
		return err
	}
	ctx.Logger.Info("recounted replies", "inbox", inbox, "outbox", outbox)
	return nil
}

// recountReplies recomputes the replies count of every row of T.
func recountReplies[T any](db *gorm.DB, objects *models.Objects, log *slog.Logger, apID func(*T) string) (int64, error) {
	var rows []*T
	res := db.Select("id", "ap_id").FindInBatches(&rows, 100, func(tx *gorm.DB, batch int) error {
		for _, row := range rows {
			if err := objects.RecountReplies(apID(row)); err != nil {
				log.Error("failed to recount replies", "ap_id", apID(row), "error", err)
			}
		}
		return nil
	})
	return res.RowsAffected, res.Error
}
