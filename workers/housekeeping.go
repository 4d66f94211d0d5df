package workers

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/davecheney/solo/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// retention is how long finished work items are kept.
const retention = 7 * 24 * time.Hour

// Housekeeping removes delivered work items and abandoned inbox deliveries
// older than the retention period.
func Housekeeping(db *gorm.DB, log *slog.Logger, now time.Time) error {
	before := now.Add(-retention)
	return db.Transaction(func(tx *gorm.DB) error {
		sent, err := models.NewOutgoingActivities(tx).PruneSent(before)
		if err != nil {
			return err
		}
		res := tx.Where("attempts >= ? AND updated_at < ?", maxIngestAttempts, before).Delete(&models.IncomingActivity{})
		if res.Error != nil {
			return res.Error
		}
		log.Info("housekeeping", "sent_pruned", sent, "incoming_pruned", res.RowsAffected)
		return nil
	})
}

// NewHousekeeper runs Housekeeping on the schedule of the cron expression expr.
func NewHousekeeper(db *gorm.DB, log *slog.Logger, expr string) func(context.Context) error {
	return func(ctx context.Context) error {
		log := log.With("worker", "housekeeping", "cron", expr)
		log.Info("started")
		defer log.Info("stopped")
		for {
			next, err := gronx.NextTickAfter(expr, time.Now(), false)
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Until(next)):
				if err := Housekeeping(db.WithContext(ctx), log, time.Now()); err != nil {
					log.Error("housekeeping failed", "error", err)
				}
			}
		}
	}
}
