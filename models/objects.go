package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
)

// Object is a stored object from either store. Exactly one of Inbox or
// Outbox is set.
type Object struct {
	Inbox  *InboxObject
	Outbox *OutboxObject
}

func (o *Object) Ref() Ref {
	if o.Outbox != nil {
		return o.Outbox.Ref()
	}
	return o.Inbox.Ref()
}

func (o *Object) IsLocal() bool { return o.Outbox != nil }

func (o *Object) APID() string {
	if o.Outbox != nil {
		return o.Outbox.APID
	}
	return o.Inbox.APID
}

func (o *Object) APType() string {
	if o.Outbox != nil {
		return o.Outbox.APType
	}
	return o.Inbox.APType
}

func (o *Object) APObject() map[string]any {
	if o.Outbox != nil {
		return o.Outbox.APObject
	}
	return o.Inbox.APObject
}

func (o *Object) Conversation() string {
	if o.Outbox != nil {
		return o.Outbox.Conversation
	}
	return o.Inbox.Conversation
}

func (o *Object) InReplyTo() string {
	if o.Outbox != nil {
		return o.Outbox.InReplyTo
	}
	return o.Inbox.InReplyTo
}

func (o *Object) Visibility() Visibility {
	if o.Outbox != nil {
		return o.Outbox.Visibility
	}
	return o.Inbox.Visibility
}

func (o *Object) PublishedAt() time.Time {
	if o.Outbox != nil {
		return o.Outbox.APPublishedAt
	}
	return o.Inbox.APPublishedAt
}

func (o *Object) IsDeleted() bool {
	if o.Outbox != nil {
		return o.Outbox.IsDeleted
	}
	return o.Inbox.IsDeleted
}

// Objects spans both stores. Ids rooted at baseURL live in the outbox,
// everything else in the inbox.
type Objects struct {
	db      *gorm.DB
	baseURL string
}

func NewObjects(db *gorm.DB, baseURL string) *Objects {
	return &Objects{db: db, baseURL: baseURL}
}

// IsLocal reports whether apID is rooted at this node.
func (o *Objects) IsLocal(apID string) bool {
	return apID == o.baseURL || strings.HasPrefix(apID, o.baseURL+"/") || strings.HasPrefix(apID, o.baseURL+"#")
}

// ByAPID returns the stored object with the given ap_id from the store its
// id belongs to. gorm.ErrRecordNotFound is returned if it is not stored.
func (o *Objects) ByAPID(apID string) (*Object, error) {
	if o.IsLocal(apID) {
		obj, err := NewOutboxObjects(o.db).FindByAPID(apID)
		if err != nil {
			return nil, err
		}
		return &Object{Outbox: obj}, nil
	}
	obj, err := NewInboxObjects(o.db).FindByAPID(apID)
	if err != nil {
		return nil, err
	}
	return &Object{Inbox: obj}, nil
}

// Resolve follows ref to the row it points at.
func (o *Objects) Resolve(ref Ref) (*Object, error) {
	switch ref.Store {
	case StoreInbox:
		obj, err := NewInboxObjects(o.db).FindByID(ref.ID)
		if err != nil {
			return nil, err
		}
		return &Object{Inbox: obj}, nil
	case StoreOutbox:
		obj, err := NewOutboxObjects(o.db).FindByID(ref.ID)
		if err != nil {
			return nil, err
		}
		return &Object{Outbox: obj}, nil
	default:
		return nil, fmt.Errorf("Resolve: %w", gorm.ErrRecordNotFound)
	}
}

// CountReplies counts the non-deleted objects of both stores replying to apID.
func (o *Objects) CountReplies(apID string) (int64, error) {
	var inbox, outbox int64
	if err := o.db.Model(&InboxObject{}).Where("in_reply_to = ? AND is_deleted = ?", apID, false).Count(&inbox).Error; err != nil {
		return 0, err
	}
	if err := o.db.Model(&OutboxObject{}).Where("in_reply_to = ? AND is_deleted = ?", apID, false).Count(&outbox).Error; err != nil {
		return 0, err
	}
	return inbox + outbox, nil
}

// RecountReplies recomputes the replies count of the stored object apID.
// Unknown objects are ignored.
func (o *Objects) RecountReplies(apID string) error {
	n, err := o.CountReplies(apID)
	if err != nil {
		return err
	}
	var model any = &InboxObject{}
	if o.IsLocal(apID) {
		model = &OutboxObject{}
	}
	return o.db.Model(model).Where("ap_id = ?", apID).UpdateColumn("replies_count", n).Error
}

// CascadeDelete marks deleted every activity of either store pointing at
// apID. Delete activities are left as they are.
func (o *Objects) CascadeDelete(apID string) error {
	scope := func(db *gorm.DB) *gorm.DB {
		return db.Where("activity_object_ap_id = ? AND is_deleted = ? AND ap_type <> ?", apID, false, "Delete")
	}
	if err := o.db.Model(&InboxObject{}).Scopes(scope).UpdateColumn("is_deleted", true).Error; err != nil {
		return err
	}
	return o.db.Model(&OutboxObject{}).Scopes(scope).UpdateColumn("is_deleted", true).Error
}

// threadTypes are the object types that take part in a conversation.
var threadTypes = []string{"Note", "Page", "Article", "Question"}

// Conversation returns the non-deleted objects of both stores in the given
// conversation. Unless includePrivate, only public and unlisted objects are returned.
func (o *Objects) Conversation(conversation string, includePrivate bool) ([]*Object, error) {
	if conversation == "" {
		return nil, errors.New("Conversation: empty conversation")
	}
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("conversation = ? AND is_deleted = ? AND ap_type IN ?", conversation, false, threadTypes)
		if !includePrivate {
			db = db.Where("visibility IN ?", []Visibility{Public, Unlisted})
		}
		return db
	}
	var inbox []*InboxObject
	if err := o.db.Scopes(scope).Preload("Actor").Find(&inbox).Error; err != nil {
		return nil, err
	}
	var outbox []*OutboxObject
	if err := o.db.Scopes(scope).Find(&outbox).Error; err != nil {
		return nil, err
	}
	objs := make([]*Object, 0, len(inbox)+len(outbox))
	for _, obj := range inbox {
		objs = append(objs, &Object{Inbox: obj})
	}
	for _, obj := range outbox {
		objs = append(objs, &Object{Outbox: obj})
	}
	return objs, nil
}

// maxInsertAttempts bounds the retries of an insert whose time derived id
// collided with another row.
const maxInsertAttempts = 4

// insert runs create in a savepoint. If it fails and a row with apID is
// stored, the error is gorm.ErrDuplicatedKey whatever the driver reported.
// If instead the row's id is taken, reassign gives it a new id and the
// insert is retried.
func insert(db *gorm.DB, model any, apID string, id *snowflake.ID, create func(*gorm.DB) error, reassign func()) error {
	for attempt := 1; ; attempt++ {
		err := db.Transaction(create)
		if err == nil {
			return nil
		}
		if taken, xerr := exists(db, model, "ap_id = ?", apID); xerr != nil {
			return xerr
		} else if taken {
			return gorm.ErrDuplicatedKey
		}
		if attempt == maxInsertAttempts {
			return err
		}
		if taken, xerr := exists(db, model, "id = ?", *id); xerr != nil {
			return xerr
		} else if !taken {
			return err
		}
		reassign()
	}
}

func exists(db *gorm.DB, model any, query string, args ...any) (bool, error) {
	var n int64
	err := db.Model(model).Where(query, args...).Count(&n).Error
	return n > 0, err
}
