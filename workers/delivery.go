package workers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davecheney/solo/activitypub"
	iap "github.com/davecheney/solo/internal/activitypub"
	"github.com/davecheney/solo/internal/ldsig"
	"github.com/davecheney/solo/internal/metrics"
	"github.com/davecheney/solo/internal/webmention"
	"github.com/davecheney/solo/models"
	"gorm.io/gorm"
)

// backoff is the delay before the nth retry; the last entry repeats.
var backoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// retryAfter returns the delay after the given number of failed attempts.
func retryAfter(attempts uint32) time.Duration {
	i := int(attempts) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(backoff) {
		i = len(backoff) - 1
	}
	return backoff[i]
}

// Poster delivers a document to an inbox. *iap.Client implements it.
type Poster interface {
	Post(ctx context.Context, inbox string, body []byte) (int, error)
}

// Deliverer sends outgoing work items.
type Deliverer struct {
	Env    *activitypub.Env
	Poster Poster
	// HTTP is used for webmention discovery and notification.
	HTTP *http.Client
	// Signer, if set, embeds a linked data signature in public Create,
	// Update and Delete activities so they can be forwarded.
	Signer      *ldsig.Verifier
	MaxAttempts int
}

// NewDeliveryProcessor delivers due work items every interval.
func NewDeliveryProcessor(d *Deliverer, interval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		log := d.Env.Log().With("worker", "delivery")
		return loop(ctx, log, interval, func(ctx context.Context) error {
			return d.Pass(d.Env.DB.WithContext(ctx), time.Now())
		})
	}
}

// Pass attempts every work item due at now once.
func (d *Deliverer) Pass(db *gorm.DB, now time.Time) error {
	scope := func(db *gorm.DB) *gorm.DB {
		return models.NewOutgoingActivities(db).Due(now)
	}
	return process(db, scope, d.deliver, d.sent)
}

func (d *Deliverer) deliver(db *gorm.DB, item *models.OutgoingActivity) error {
	ctx := db.Statement.Context
	var status int
	var err error
	if item.WebmentionTarget != "" {
		status, err = d.webmention(ctx, item)
	} else {
		status, err = d.post(ctx, item)
	}
	item.LastStatusCode = status
	if err == nil {
		return nil
	}

	attempts := item.Attempts + 1
	errored := attempts >= uint32(d.MaxAttempts) || permanent(status)
	result := "retry"
	if errored {
		result = "errored"
	}
	metrics.Deliveries.WithLabelValues(result).Inc()
	d.Env.Log().Warn("delivery failed", "id", item.ID, "recipient", item.Recipient, "status", status, "attempts", attempts, "errored", errored, "error", err)
	if uerr := db.Model(item).UpdateColumns(map[string]any{
		"last_status_code": status,
		"next_attempt":     time.Now().Add(retryAfter(attempts)),
		"is_errored":       errored,
	}).Error; uerr != nil {
		return uerr
	}
	return err
}

// permanent reports whether a response status means retrying is pointless.
func permanent(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusGone, http.StatusNotImplemented:
		return true
	}
	return false
}

func (d *Deliverer) sent(db *gorm.DB, item *models.OutgoingActivity) error {
	metrics.Deliveries.WithLabelValues("sent").Inc()
	d.Env.Log().Debug("delivered", "id", item.ID, "recipient", item.Recipient, "status", item.LastStatusCode)
	return db.Model(item).UpdateColumns(map[string]any{
		"attempts":         gorm.Expr("attempts + 1"),
		"last_attempt":     time.Now(),
		"last_status_code": item.LastStatusCode,
		"last_result":      "",
		"is_sent":          true,
	}).Error
}

// post delivers the activity item points at to its recipient inbox.
func (d *Deliverer) post(ctx context.Context, item *models.OutgoingActivity) (int, error) {
	var doc map[string]any
	switch {
	case item.OutboxObject != nil:
		doc = d.Env.Activity(item.OutboxObject)
		if d.Signer != nil && signable(item.OutboxObject) {
			doc = d.sign(doc)
		}
	case item.InboxObject != nil:
		// forwarded verbatim, signature included
		doc = item.InboxObject.APObject
	default:
		return 0, fmt.Errorf("work item %d has no object", item.ID)
	}
	body, err := iap.Marshal(doc)
	if err != nil {
		return 0, err
	}
	return d.Poster.Post(ctx, item.Recipient, body)
}

func signable(obj *models.OutboxObject) bool {
	if !obj.Visibility.IsPublic() {
		return false
	}
	switch obj.APType {
	case "Delete", "Update":
		return true
	}
	return activitypub.IsObjectType(obj.APType)
}

// sign returns a signed copy of doc, or doc itself if signing fails.
func (d *Deliverer) sign(doc map[string]any) map[string]any {
	signed := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		signed[k] = v
	}
	local := d.Env.Local
	if err := d.Signer.Sign(signed, local.KeyID(), local.PrivateKey); err != nil {
		d.Env.Log().Warn("unable to sign activity", "id", doc["id"], "error", err)
		return doc
	}
	return signed
}

// webmention notifies the target of item, if it accepts webmentions, that
// the local object links to it.
func (d *Deliverer) webmention(ctx context.Context, item *models.OutgoingActivity) (int, error) {
	if item.OutboxObject != nil && item.OutboxObject.IsDeleted {
		return 0, nil
	}
	endpoint, err := webmention.Discover(ctx, d.HTTP, item.WebmentionTarget)
	if err != nil {
		return 0, err
	}
	if endpoint == "" {
		d.Env.Log().Debug("no webmention endpoint", "target", item.WebmentionTarget)
		return 0, nil
	}
	return webmention.Send(ctx, d.HTTP, endpoint, item.Recipient, item.WebmentionTarget)
}
