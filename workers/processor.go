// Package workers holds the background loops started by serve: ingestion of
// queued inbox deliveries, outbound delivery and housekeeping.
package workers

import (
	"context"
	"time"

	"github.com/davecheney/solo/activitypub"
	"github.com/davecheney/solo/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// process makes one pass through the requests matching the scope, calling fn for each one.
// If fn returns an error, the request is updated with the error and the pass continues.
// If fn returns nil, done retires the request.
func process[T any](db *gorm.DB, scope func(*gorm.DB) *gorm.DB, fn func(*gorm.DB, T) error, done func(*gorm.DB, T) error) error {
	var requests []T
	return db.Scopes(scope).FindInBatches(&requests, 100, func(_ *gorm.DB, batch int) error {
		return forEach(requests, func(request T) error {
			start := time.Now()
			if err := fn(db, request); err != nil {
				return db.Model(request).UpdateColumns(map[string]interface{}{
					"attempts":     gorm.Expr("attempts + 1"),
					"last_attempt": start,
					"last_result":  err.Error(),
				}).Error
			}
			return done(db, request)
		})
	}).Error
}

func forEach[T any](a []T, fn func(T) error) error {
	for _, v := range a {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// deleteRequest retires a request by removing it.
func deleteRequest[T any](db *gorm.DB, request T) error {
	return db.Delete(request).Error
}

// loop calls pass every interval until ctx is cancelled. A failed pass is
// logged and retried on the next tick.
func loop(ctx context.Context, log *slog.Logger, interval time.Duration, pass func(ctx context.Context) error) error {
	log.Info("started")
	defer log.Info("stopped")
	for {
		if err := pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
			// continue
		}
	}
}

// withDB returns a copy of env operating on db.
func withDB(env *activitypub.Env, db *gorm.DB) *activitypub.Env {
	c := *env
	c.Env = &models.Env{DB: db, Logger: env.Logger}
	return &c
}
