package models

import (
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type NotificationType string

const (
	NotificationNewFollower             NotificationType = "new_follower"
	NotificationPendingIncomingFollower NotificationType = "pending_incoming_follower"
	NotificationRejectedFollower        NotificationType = "rejected_follower"
	NotificationUnfollow                NotificationType = "unfollow"
	NotificationFollowRequestAccepted   NotificationType = "follow_request_accepted"
	NotificationFollowRequestRejected   NotificationType = "follow_request_rejected"
	NotificationMove                    NotificationType = "move"
	NotificationLike                    NotificationType = "like"
	NotificationUndoLike                NotificationType = "undo_like"
	NotificationAnnounce                NotificationType = "announce"
	NotificationUndoAnnounce            NotificationType = "undo_announce"
	NotificationMention                 NotificationType = "mention"
)

func (NotificationType) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('new_follower', 'pending_incoming_follower', 'rejected_follower', 'unfollow', 'follow_request_accepted', 'follow_request_rejected', 'move', 'like', 'undo_like', 'announce', 'undo_announce', 'mention')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// Notification is an append only record of something that happened to the local actor.
type Notification struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	Type      NotificationType `gorm:"not null;index"`
	IsNew     bool             `gorm:"not null;default:true"`

	ActorID        *snowflake.ID
	Actor          *Actor `gorm:"constraint:OnDelete:CASCADE;<-:false"`
	OutboxObjectID *snowflake.ID
	InboxObjectID  *snowflake.ID

	// IsAccepted and IsRejected record the outcome of a pending follower.
	IsAccepted bool `gorm:"not null;default:false"`
	IsRejected bool `gorm:"not null;default:false"`
}

type Notifications struct {
	db *gorm.DB
}

func NewNotifications(db *gorm.DB) *Notifications {
	return &Notifications{db: db}
}

// Notify records a notification of typ. actor, inbox and outbox may be nil.
func (n *Notifications) Notify(typ NotificationType, actor *Actor, inbox *InboxObject, outbox *OutboxObject) (*Notification, error) {
	notif := &Notification{
		ID:    snowflake.Now(),
		Type:  typ,
		IsNew: true,
	}
	if actor != nil {
		notif.ActorID = &actor.ID
	}
	if inbox != nil {
		notif.InboxObjectID = &inbox.ID
	}
	if outbox != nil {
		notif.OutboxObjectID = &outbox.ID
	}
	return notif, n.db.Omit("Actor").Create(notif).Error
}

// FindByID returns the notification with its actor.
func (n *Notifications) FindByID(id snowflake.ID) (*Notification, error) {
	var notif Notification
	return &notif, n.db.Preload("Actor").Take(&notif, id).Error
}

// Resolve records the outcome of a pending follower notification.
func (n *Notifications) Resolve(notif *Notification, accepted bool) error {
	column := "is_rejected"
	if accepted {
		column = "is_accepted"
	}
	return n.db.Model(notif).UpdateColumns(map[string]any{column: true, "is_new": false}).Error
}

// OfType returns the notifications of typ, oldest first.
func (n *Notifications) OfType(typ NotificationType) ([]*Notification, error) {
	var notifs []*Notification
	return notifs, n.db.Where("type = ?", typ).Order("id").Find(&notifs).Error
}
