package workers

import (
	"context"
	"errors"
	"time"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

// maxIngestAttempts is the number of times a queued delivery is ingested
// before it is left for inspection.
const maxIngestAttempts = 3

// NewIncomingActivityProcessor ingests the payloads queued by the shared inbox.
func NewIncomingActivityProcessor(env *activitypub.Env, interval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		log := env.Log().With("worker", "incoming")
		return loop(ctx, log, interval, func(ctx context.Context) error {
			db := env.DB.WithContext(ctx)
			return process(db, incomingScope, ingester(env), deleteRequest[*models.IncomingActivity])
		})
	}
}

func incomingScope(db *gorm.DB) *gorm.DB {
	return db.Where("attempts < ?", maxIngestAttempts)
}

// ingester returns the per request step of the incoming processor.
// Activities rejected as invalid are dropped rather than retried.
func ingester(env *activitypub.Env) func(*gorm.DB, *models.IncomingActivity) error {
	return func(db *gorm.DB, in *models.IncomingActivity) error {
		err := withDB(env, db).Ingest(db.Statement.Context, in.Payload, in.SentBy)
		switch {
		case errors.Is(err, activitypub.ErrInvalidSignature), errors.Is(err, activitypub.ErrValidation):
			env.Log().Info("dropping incoming activity", "id", in.ID, "sent_by", in.SentBy, "error", err)
			return nil
		default:
			return err
		}
	}
}
