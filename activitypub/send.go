package activitypub

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/internal/markdown"
	"github.com/davecheney/solo/internal/metrics"
	"github.com/davecheney/solo/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// activityStreamsContext is the @context of every locally authored document.
var activityStreamsContext = []any{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
	map[string]any{
		"Hashtag":     "as:Hashtag",
		"sensitive":   "as:sensitive",
		"toot":        "http://joinmastodon.org/ns#",
		"votersCount": "toot:votersCount",
	},
}

// newPublicID returns a fresh opaque local id.
func newPublicID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// newObject returns the public id and ActivityPub id of a new local object.
func (e *Env) newObject() (string, string) {
	publicID := newPublicID()
	return publicID, e.Local.ObjectURL(publicID)
}

// outboxObject returns an unsaved outbox row for doc.
func (e *Env) outboxObject(publicID string, doc map[string]any) *models.OutboxObject {
	return &models.OutboxObject{
		PublicID:           publicID,
		APType:             typeOf(doc),
		APID:               idOf(doc),
		APContext:          contextOf(doc),
		APPublishedAt:      publishedOf(doc),
		APObject:           doc,
		Visibility:         visibilityOf(doc, e.Local.Followers()),
		InReplyTo:          inReplyToOf(doc),
		ActivityObjectAPID: activityObjectAPID(doc),
	}
}

// saveActivity stores the activity doc relating to ref and enqueues it for
// recipients.
func (e *Env) saveActivity(tx *gorm.DB, publicID string, doc map[string]any, ref models.Ref, recipients []string) (*models.OutboxObject, error) {
	obj := e.outboxObject(publicID, doc)
	obj.RelatesTo = ref
	if err := models.NewOutboxObjects(tx).Create(obj); err != nil {
		return nil, err
	}
	return obj, e.enqueue(tx, obj.Ref(), recipients...)
}

// enqueue schedules delivery of ref to each recipient.
func (e *Env) enqueue(tx *gorm.DB, ref models.Ref, recipients ...string) error {
	outgoing := models.NewOutgoingActivities(tx)
	for _, recipient := range recipients {
		if _, err := outgoing.Enqueue(recipient, ref, ""); err != nil {
			return err
		}
		metrics.Enqueued.Inc()
	}
	return nil
}

// enqueueWebmentions schedules a webmention from obj to each link.
func (e *Env) enqueueWebmentions(tx *gorm.DB, obj *models.OutboxObject, links []string) error {
	outgoing := models.NewOutgoingActivities(tx)
	for _, link := range links {
		if _, err := outgoing.Enqueue(obj.APID, obj.Ref(), link); err != nil {
			return err
		}
		metrics.Enqueued.Inc()
	}
	return nil
}

func authored(obj *models.OutboxObject) {
	metrics.Authored.WithLabelValues(obj.APType).Inc()
}

// resolveMention resolves @user@host for the markdown renderer.
func (e *Env) resolveMention(ctx context.Context, handle string) (*markdown.Mention, error) {
	actor, err := models.NewActors(e.DB).FindByHandle(handle)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if e.Finger == nil {
			return nil, err
		}
		id, ferr := e.Finger(ctx, handle)
		if ferr != nil {
			return nil, ferr
		}
		actor, err = e.Actors().Fetch(ctx, e.DB, id, true)
	}
	if err != nil {
		return nil, err
	}
	return &markdown.Mention{ActorID: actor.APID, URL: actor.URL()}, nil
}

func (e *Env) render(ctx context.Context, source string) (*markdown.Rendered, error) {
	rendered, err := markdown.Render(ctx, source, e.Local.BaseURL, e.resolveMention)
	if err != nil {
		return nil, err
	}
	for _, handle := range rendered.Unresolved {
		e.Log().Warn("unable to resolve mention", "handle", handle)
	}
	return rendered, nil
}

func tagsOf(rendered *markdown.Rendered) []any {
	return algorithms.Map(rendered.Tags, func(tag map[string]any) any { return tag })
}

// Attachment is a document hosted elsewhere attached to a local object.
type Attachment struct {
	URL       string
	MediaType string
	Name      string
}

// CreateParams describes a new local object.
type CreateParams struct {
	// Type is Note, Article or Question. Defaults to Note.
	Type       string
	Source     string
	Visibility models.Visibility
	InReplyTo  string

	ContentWarning string
	Sensitive      bool

	// Name is the title of an Article.
	Name string

	// PollType is oneOf or anyOf.
	PollType            string
	PollAnswers         []string
	PollDurationMinutes int

	Attachments []Attachment
}

func (p *CreateParams) validate() error {
	if p.Type == "" {
		p.Type = "Note"
	}
	if p.Visibility == "" {
		p.Visibility = models.Public
	}
	switch p.Visibility {
	case models.Public, models.Unlisted, models.FollowersOnly, models.Direct:
	default:
		return validationError("unknown visibility %q", p.Visibility)
	}
	if strings.TrimSpace(p.Source) == "" {
		return validationError("empty source")
	}
	switch p.Type {
	case "Note":
	case "Article":
		if p.Name == "" {
			return validationError("Article requires a name")
		}
	case "Question":
		if len(algorithms.Uniq(p.PollAnswers)) < 2 {
			return validationError("Question requires at least two distinct answers")
		}
		if p.PollType != "oneOf" && p.PollType != "anyOf" {
			return validationError("unknown poll type %q", p.PollType)
		}
		if p.PollDurationMinutes <= 0 {
			return validationError("Question requires a duration")
		}
	default:
		return validationError("cannot create a %s", p.Type)
	}
	return nil
}

// addressFor returns the addressing of a new object of visibility v.
func (e *Env) addressFor(v models.Visibility, mentioned []string) (to, cc []string) {
	followers := e.Local.Followers()
	switch v {
	case models.Public:
		return []string{PublicCollection}, append([]string{followers}, mentioned...)
	case models.Unlisted:
		return []string{followers}, append([]string{PublicCollection}, mentioned...)
	case models.FollowersOnly:
		return []string{followers}, mentioned
	default:
		return mentioned, []string{}
	}
}

// SendCreate publishes a new local object.
func (e *Env) SendCreate(ctx context.Context, p CreateParams) (*models.OutboxObject, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	publicID, id := e.newObject()
	published := time.Now().UTC().Truncate(time.Second)
	apContext := e.Local.BaseURL + "/contexts/" + newPublicID()
	conversation := apContext

	var parent *models.Object
	if p.InReplyTo != "" {
		var err error
		parent, err = e.objects(e.DB).ByAPID(p.InReplyTo)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, validationError("reply to unknown object %s", p.InReplyTo)
		case err != nil:
			return nil, err
		}
		if c := contextOf(parent.APObject()); c != "" {
			apContext = c
		}
		if conversation = parent.Conversation(); conversation == "" {
			conversation = e.resolveRoot(ctx, e.DB, parent.APObject())
		}
	}

	rendered, err := e.render(ctx, p.Source)
	if err != nil {
		return nil, err
	}
	mentioned := rendered.Mentioned
	if parent != nil && !parent.IsLocal() {
		mentioned = algorithms.Uniq(append(mentioned, parent.Inbox.APActorID))
	}
	to, cc := e.addressFor(p.Visibility, mentioned)

	doc := map[string]any{
		"@context":     activityStreamsContext,
		"type":         p.Type,
		"id":           id,
		"attributedTo": e.Local.ID(),
		"content":      rendered.Content,
		"to":           to,
		"cc":           cc,
		"published":    formatTime(published),
		"context":      apContext,
		"conversation": apContext,
		"url":          id,
		"tag":          tagsOf(rendered),
		"sensitive":    p.Sensitive || p.ContentWarning != "",
		"attachment":   attachmentsOf(p.Attachments),
	}
	if p.ContentWarning != "" {
		doc["summary"] = p.ContentWarning
	}
	if p.InReplyTo != "" {
		doc["inReplyTo"] = p.InReplyTo
	}
	switch p.Type {
	case "Article":
		doc["name"] = p.Name
	case "Question":
		doc["votersCount"] = 0
		doc["endTime"] = formatTime(published.Add(time.Duration(p.PollDurationMinutes) * time.Minute))
		doc[p.PollType] = algorithms.Map(algorithms.Uniq(p.PollAnswers), func(name string) any {
			return map[string]any{
				"type": "Note",
				"name": name,
				"replies": map[string]any{
					"type":       "Collection",
					"totalItems": 0,
				},
			}
		})
	}

	recipients, err := e.Recipients(ctx, e.DB, doc)
	if err != nil {
		return nil, err
	}

	var obj *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		obj = e.outboxObject(publicID, doc)
		obj.Source = p.Source
		obj.Conversation = conversation
		obj.IsHiddenFromHomepage = p.InReplyTo != ""
		if err := models.NewOutboxObjects(tx).Create(obj); err != nil {
			return err
		}
		if err := models.NewTags(tx).Tag(obj.ID, markdown.Hashtags(rendered.Tags)...); err != nil {
			return err
		}
		if err := e.enqueue(tx, obj.Ref(), recipients...); err != nil {
			return err
		}
		if obj.Visibility == models.Public {
			if err := e.enqueueWebmentions(tx, obj, rendered.Links); err != nil {
				return err
			}
		}
		if parent != nil {
			return e.objects(tx).RecountReplies(parent.APID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	authored(obj)
	return obj, nil
}

func attachmentsOf(attachments []Attachment) []any {
	docs := make([]any, 0, len(attachments))
	for _, a := range attachments {
		doc := map[string]any{
			"type":      "Document",
			"url":       a.URL,
			"mediaType": a.MediaType,
		}
		if a.Name != "" {
			doc["name"] = a.Name
		}
		docs = append(docs, doc)
	}
	return docs
}

// findOwn returns the local object apID.
func (e *Env) findOwn(apID string) (*models.OutboxObject, error) {
	obj, err := models.NewOutboxObjects(e.DB).FindByAPID(apID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationError("unknown local object %s", apID)
	}
	return obj, err
}

// SendUpdate replaces the source of the local object apID and republishes it.
func (e *Env) SendUpdate(ctx context.Context, apID, source string) (*models.OutboxObject, error) {
	obj, err := e.findOwn(apID)
	if err != nil {
		return nil, err
	}
	if obj.IsDeleted || !IsObjectType(obj.APType) {
		return nil, validationError("cannot update %s %s", obj.APType, apID)
	}
	if strings.TrimSpace(source) == "" {
		return nil, validationError("empty source")
	}
	rendered, err := e.render(ctx, source)
	if err != nil {
		return nil, err
	}

	updated := time.Now().UTC().Truncate(time.Second)
	revision := models.Revision{
		APObject: obj.APObject,
		Source:   obj.Source,
		Updated:  timeFromAnyOrZero(obj.APObject["updated"]),
	}
	if revision.Updated.IsZero() {
		revision.Updated = obj.APPublishedAt
	}
	doc := clone(obj.APObject)
	doc["content"] = rendered.Content
	doc["tag"] = tagsOf(rendered)
	doc["updated"] = formatTime(updated)

	recipients, err := e.Recipients(ctx, e.DB, doc)
	if err != nil {
		return nil, err
	}
	var update *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		obj.Revisions = append(obj.Revisions, revision)
		obj.APObject = doc
		obj.Source = source
		if err := models.NewOutboxObjects(tx).Save(obj); err != nil {
			return err
		}
		if err := models.NewTags(tx).Tag(obj.ID, markdown.Hashtags(rendered.Tags)...); err != nil {
			return err
		}
		if update, err = e.sendUpdate(tx, obj, recipients); err != nil {
			return err
		}
		if obj.Visibility == models.Public {
			return e.enqueueWebmentions(tx, obj, rendered.Links)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	authored(update)
	return obj, nil
}

// sendUpdate stores an Update carrying the current version of obj and
// enqueues it for recipients. Each Update has its own id.
func (e *Env) sendUpdate(tx *gorm.DB, obj *models.OutboxObject, recipients []string) (*models.OutboxObject, error) {
	inner := clone(obj.APObject)
	delete(inner, "@context")
	publicID, id := e.newObject()
	doc := map[string]any{
		"@context":  activityStreamsContext,
		"type":      "Update",
		"id":        id,
		"actor":     e.Local.ID(),
		"published": formatTime(time.Now()),
		"to":        inner["to"],
		"cc":        inner["cc"],
		"object":    inner,
	}
	return e.saveActivity(tx, publicID, doc, obj.Ref(), recipients)
}

// SendDelete deletes the local object apID, delivering a Tombstone to its
// original audience.
func (e *Env) SendDelete(ctx context.Context, apID string) (*models.OutboxObject, error) {
	target, err := e.findOwn(apID)
	if err != nil {
		return nil, err
	}
	if target.IsDeleted || !IsObjectType(target.APType) {
		return nil, validationError("cannot delete %s %s", target.APType, apID)
	}
	recipients, err := e.Recipients(ctx, e.DB, target.APObject)
	if err != nil {
		return nil, err
	}
	publicID, id := e.newObject()
	doc := map[string]any{
		"@context": activityStreamsContext,
		"type":     "Delete",
		"id":       id,
		"actor":    e.Local.ID(),
		"object": map[string]any{
			"type": "Tombstone",
			"id":   apID,
		},
		"to": target.APObject["to"],
		"cc": target.APObject["cc"],
	}

	var del *models.OutboxObject
	err = e.Transaction(func(tx *gorm.DB) error {
		if err := models.NewOutboxObjects(tx).MarkDeleted(target); err != nil {
			return err
		}
		if err := e.objects(tx).CascadeDelete(apID); err != nil {
			return err
		}
		if del, err = e.saveActivity(tx, publicID, doc, target.Ref(), recipients); err != nil {
			return err
		}
		if target.InReplyTo != "" {
			return e.objects(tx).RecountReplies(target.InReplyTo)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	authored(del)
	return del, nil
}
