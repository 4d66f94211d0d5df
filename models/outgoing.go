package models

import (
	"errors"
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
)

// OutgoingActivity is a delivery work item: one activity for one inbox, or
// one webmention for one target.
type OutgoingActivity struct {
	Request

	Recipient string `gorm:"size:255;not null"`

	OutboxObjectID *snowflake.ID
	OutboxObject   *OutboxObject `gorm:"constraint:OnDelete:CASCADE;<-:false"`
	// InboxObjectID is set when forwarding a remote activity.
	InboxObjectID *snowflake.ID
	InboxObject   *InboxObject `gorm:"constraint:OnDelete:CASCADE;<-:false"`

	WebmentionTarget string `gorm:"size:255"`

	NextAttempt    time.Time `gorm:"not null;index"`
	LastStatusCode int       `gorm:"not null;default:0"`
	IsSent         bool      `gorm:"not null;default:false;index"`
	IsErrored      bool      `gorm:"not null;default:false"`
}

type OutgoingActivities struct {
	db *gorm.DB
}

func NewOutgoingActivities(db *gorm.DB) *OutgoingActivities {
	return &OutgoingActivities{db: db}
}

// Enqueue schedules delivery of the object ref points at to recipient. For
// webmentions recipient is the source URL and webmentionTarget the linked page.
func (o *OutgoingActivities) Enqueue(recipient string, ref Ref, webmentionTarget string) (uint64, error) {
	item := &OutgoingActivity{
		Recipient:        recipient,
		WebmentionTarget: webmentionTarget,
		NextAttempt:      time.Now(),
	}
	switch ref.Store {
	case StoreOutbox:
		item.OutboxObjectID = &ref.ID
	case StoreInbox:
		item.InboxObjectID = &ref.ID
	default:
		return 0, errors.New("Enqueue: empty object reference")
	}
	if err := o.db.Omit("OutboxObject", "InboxObject").Create(item).Error; err != nil {
		return 0, err
	}
	return item.ID, nil
}

// Due returns a query for the work items ready for an attempt at now.
func (o *OutgoingActivities) Due(now time.Time) *gorm.DB {
	return o.db.Model(&OutgoingActivity{}).
		Preload("OutboxObject").Preload("InboxObject").
		Where("is_sent = ? AND is_errored = ? AND next_attempt <= ?", false, false, now)
}

// PruneSent removes delivered items older than before.
func (o *OutgoingActivities) PruneSent(before time.Time) (int64, error) {
	res := o.db.Where("is_sent = ? AND updated_at < ?", true, before).Delete(&OutgoingActivity{})
	return res.RowsAffected, res.Error
}

// ForObject returns the work items created for the outbox object id.
func (o *OutgoingActivities) ForObject(id snowflake.ID) ([]*OutgoingActivity, error) {
	var items []*OutgoingActivity
	return items, o.db.Where("outbox_object_id = ?", id).Order("id").Find(&items).Error
}
