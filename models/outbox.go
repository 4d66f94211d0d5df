package models

import (
	"fmt"
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OutboxObject is an activity or object authored by the local actor.
// Outbox objects are never removed; Delete only sets IsDeleted.
type OutboxObject struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time

	PublicID string `gorm:"size:64;not null;uniqueIndex"`

	APType        string         `gorm:"size:32;not null;index"`
	APID          string         `gorm:"column:ap_id;size:255;not null;uniqueIndex"`
	APContext     string         `gorm:"size:255"`
	Conversation  string         `gorm:"size:255;index"`
	APPublishedAt time.Time      `gorm:"not null"`
	APObject      map[string]any `gorm:"serializer:json;not null"`
	Visibility    Visibility     `gorm:"not null"`

	// Source is the markdown the object was rendered from.
	Source    string `gorm:"type:text"`
	Revisions datatypes.JSONSlice[Revision]

	LikesCount     int32 `gorm:"not null;default:0"`
	AnnouncesCount int32 `gorm:"not null;default:0"`
	RepliesCount   int32 `gorm:"not null;default:0"`

	InReplyTo          string `gorm:"size:255;index"`
	ActivityObjectAPID string `gorm:"column:activity_object_ap_id;size:255;index"`
	RelatesTo          Ref    `gorm:"embedded;embeddedPrefix:relates_to_"`

	// UndoneByID is the outbox Undo that reverted this activity.
	UndoneByID *snowflake.ID

	IsHiddenFromHomepage bool `gorm:"not null;default:false"`
	IsTransient          bool `gorm:"not null;default:false"`
	IsDeleted            bool `gorm:"not null;default:false"`
}

// Revision is a previous version of an outbox object.
type Revision struct {
	APObject map[string]any `json:"ap_object"`
	Source   string         `json:"source"`
	Updated  time.Time      `json:"updated"`
}

func (o *OutboxObject) BeforeCreate(tx *gorm.DB) error {
	if o.APID == "" || o.PublicID == "" {
		return fmt.Errorf("outbox object has no ap_id or public_id")
	}
	if o.APPublishedAt.IsZero() {
		o.APPublishedAt = time.Now()
	}
	if o.ID == 0 {
		o.ID = snowflake.TimeToID(o.APPublishedAt)
	}
	if o.Visibility == "" {
		o.Visibility = Direct
	}
	return nil
}

// Ref returns a Ref to o.
func (o *OutboxObject) Ref() Ref { return OutboxRef(o.ID) }

type OutboxObjects struct {
	db *gorm.DB
}

func NewOutboxObjects(db *gorm.DB) *OutboxObjects {
	return &OutboxObjects{db: db}
}

// Create inserts obj. A duplicate ap_id is reported as gorm.ErrDuplicatedKey.
func (o *OutboxObjects) Create(obj *OutboxObject) error {
	return insert(o.db, &OutboxObject{}, obj.APID, &obj.ID, func(tx *gorm.DB) error {
		return tx.Create(obj).Error
	}, func() {
		obj.ID = snowflake.TimeToID(obj.APPublishedAt)
	})
}

// FindByAPID returns the outbox object with the given ap_id.
func (o *OutboxObjects) FindByAPID(apID string) (*OutboxObject, error) {
	var obj OutboxObject
	return &obj, o.db.Where("ap_id = ?", apID).Take(&obj).Error
}

// FindByPublicID returns the outbox object served at /o/<publicID>.
func (o *OutboxObjects) FindByPublicID(publicID string) (*OutboxObject, error) {
	var obj OutboxObject
	return &obj, o.db.Where("public_id = ?", publicID).Take(&obj).Error
}

func (o *OutboxObjects) FindByID(id snowflake.ID) (*OutboxObject, error) {
	var obj OutboxObject
	return &obj, o.db.Take(&obj, id).Error
}

// FindFollow returns the outbox Follow of the actor apID that has not been undone.
func (o *OutboxObjects) FindFollow(apID string) (*OutboxObject, error) {
	var obj OutboxObject
	return &obj, o.db.Where("ap_type = ? AND activity_object_ap_id = ? AND undone_by_id IS NULL AND is_deleted = ?", "Follow", apID, false).
		Order("id DESC").Take(&obj).Error
}

// Published returns the most recent public objects and Announces, newest
// first. These make up the outbox collection.
func (o *OutboxObjects) Published(limit int) ([]*OutboxObject, error) {
	var objs []*OutboxObject
	return objs, o.db.Where("ap_type IN ? AND visibility = ? AND is_deleted = ? AND is_transient = ?", []string{"Note", "Page", "Article", "Question", "Announce"}, Public, false, false).
		Order("id DESC").Limit(limit).Find(&objs).Error
}

func (o *OutboxObjects) Save(obj *OutboxObject) error {
	return o.db.Save(obj).Error
}

// MarkDeleted flags obj as deleted.
func (o *OutboxObjects) MarkDeleted(obj *OutboxObject) error {
	obj.IsDeleted = true
	return o.db.Model(obj).UpdateColumn("is_deleted", true).Error
}

// AdjustLikes adds delta to the likes count of obj, never going below zero.
func (o *OutboxObjects) AdjustLikes(obj *OutboxObject, delta int) error {
	return o.adjust(obj, "likes_count", delta)
}

// AdjustAnnounces adds delta to the announces count of obj, never going below zero.
func (o *OutboxObjects) AdjustAnnounces(obj *OutboxObject, delta int) error {
	return o.adjust(obj, "announces_count", delta)
}

func (o *OutboxObjects) adjust(obj *OutboxObject, column string, delta int) error {
	expr := gorm.Expr(column+" + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN "+column+" + ? < 0 THEN 0 ELSE "+column+" + ? END", delta, delta)
	}
	if err := o.db.Model(obj).UpdateColumn(column, expr).Error; err != nil {
		return err
	}
	return o.db.Select("likes_count", "announces_count").Take(obj, obj.ID).Error
}
