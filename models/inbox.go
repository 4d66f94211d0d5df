package models

import (
	"fmt"
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InboxObject is a remote activity or object received by, or fetched for,
// the local actor.
type InboxObject struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ActorID snowflake.ID `gorm:"not null;index"`
	Actor   *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false"`
	Server  string       `gorm:"size:255;not null"`

	IsHiddenFromStream bool `gorm:"not null"`

	APActorID     string         `gorm:"size:255;not null"`
	APType        string         `gorm:"size:32;not null;index"`
	APID          string         `gorm:"column:ap_id;size:255;not null;uniqueIndex"`
	APContext     string         `gorm:"size:255"`
	Conversation  string         `gorm:"size:255;index"`
	APPublishedAt time.Time      `gorm:"not null"`
	APObject      map[string]any `gorm:"serializer:json;not null"`
	Visibility    Visibility     `gorm:"not null"`

	InReplyTo          string `gorm:"size:255;index"`
	ActivityObjectAPID string `gorm:"column:activity_object_ap_id;size:255;index"`
	RelatesTo          Ref    `gorm:"embedded;embeddedPrefix:relates_to_"`

	// UndoneByID is the inbox Undo that reverted this activity.
	UndoneByID *snowflake.ID

	RepliesCount   int32 `gorm:"not null;default:0"`
	HasLDSignature bool  `gorm:"not null;default:false"`
	IsTransient    bool  `gorm:"not null;default:false"`
	IsDeleted      bool  `gorm:"not null;default:false"`

	LikedViaOutboxObjectAPID     string `gorm:"column:liked_via_outbox_object_ap_id;size:255"`
	AnnouncedViaOutboxObjectAPID string `gorm:"column:announced_via_outbox_object_ap_id;size:255"`
	QuotedInboxObjectID          *snowflake.ID

	VotedForAnswers datatypes.JSONSlice[string]
}

func (o *InboxObject) BeforeCreate(tx *gorm.DB) error {
	if o.APID == "" {
		return fmt.Errorf("inbox object has no ap_id")
	}
	if o.ID == 0 {
		if o.APPublishedAt.IsZero() {
			o.APPublishedAt = time.Now()
		}
		o.ID = snowflake.TimeToID(o.APPublishedAt)
	}
	if o.Visibility == "" {
		o.Visibility = Direct
	}
	return nil
}

// Ref returns a Ref to o.
func (o *InboxObject) Ref() Ref { return InboxRef(o.ID) }

type InboxObjects struct {
	db *gorm.DB
}

func NewInboxObjects(db *gorm.DB) *InboxObjects {
	return &InboxObjects{db: db}
}

// Create inserts o. A duplicate ap_id is reported as gorm.ErrDuplicatedKey.
func (i *InboxObjects) Create(o *InboxObject) error {
	return insert(i.db, &InboxObject{}, o.APID, &o.ID, func(tx *gorm.DB) error {
		return tx.Omit("Actor").Create(o).Error
	}, func() {
		o.ID = snowflake.TimeToID(o.APPublishedAt)
	})
}

// FindByAPID returns the inbox object with the given ap_id, with its actor.
func (i *InboxObjects) FindByAPID(apID string) (*InboxObject, error) {
	var obj InboxObject
	return &obj, i.db.Preload("Actor").Where("ap_id = ?", apID).Take(&obj).Error
}

// FindByID returns the inbox object with the given id, with its actor.
func (i *InboxObjects) FindByID(id snowflake.ID) (*InboxObject, error) {
	var obj InboxObject
	return &obj, i.db.Preload("Actor").Take(&obj, id).Error
}

// Exists reports whether an object with the given ap_id has been stored.
func (i *InboxObjects) Exists(apID string) (bool, error) {
	var n int64
	err := i.db.Model(&InboxObject{}).Where("ap_id = ?", apID).Count(&n).Error
	return n > 0, err
}

// FindDeleteFor returns the Delete activity received for apID, if any.
func (i *InboxObjects) FindDeleteFor(apID string) (*InboxObject, error) {
	var obj InboxObject
	return &obj, i.db.Where("ap_type = ? AND activity_object_ap_id = ?", "Delete", apID).Take(&obj).Error
}

// RecentAnnounces counts the visible Announces of apID received since t.
func (i *InboxObjects) RecentAnnounces(apID string, since time.Time) (int64, error) {
	var n int64
	err := i.db.Model(&InboxObject{}).
		Where("ap_type = ? AND activity_object_ap_id = ? AND is_hidden_from_stream = ? AND ap_published_at > ?", "Announce", apID, false, since).
		Count(&n).Error
	return n, err
}

// ByActor returns every non-deleted object owned by the actor.
func (i *InboxObjects) ByActor(actorID snowflake.ID) ([]*InboxObject, error) {
	var objs []*InboxObject
	return objs, i.db.Where("actor_id = ? AND is_deleted = ?", actorID, false).Order("id").Find(&objs).Error
}

// Save writes every field of o.
func (i *InboxObjects) Save(o *InboxObject) error {
	return i.db.Omit("Actor").Save(o).Error
}

// MarkDeleted flags o as deleted.
func (i *InboxObjects) MarkDeleted(o *InboxObject) error {
	o.IsDeleted = true
	return i.db.Model(o).UpdateColumn("is_deleted", true).Error
}

// Delete removes o. Used for activities that turned out to be irrelevant.
func (i *InboxObjects) Delete(o *InboxObject) error {
	return i.db.Delete(o).Error
}
