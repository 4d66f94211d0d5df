package models

import (
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Follower is a remote actor following the local actor.
type Follower struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ActorID   snowflake.ID `gorm:"not null;index"`
	Actor     *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false"`
	// InboxObjectID is the Follow that created, or last refreshed, the relationship.
	InboxObjectID snowflake.ID `gorm:"not null"`
	APActorID     string       `gorm:"size:255;not null;uniqueIndex"`
}

// Following is a remote actor the local actor follows.
type Following struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ActorID   snowflake.ID `gorm:"not null;index"`
	Actor     *Actor       `gorm:"constraint:OnDelete:CASCADE;<-:false"`
	// OutboxObjectID is the outbox Follow the remote actor accepted.
	OutboxObjectID snowflake.ID `gorm:"not null"`
	APActorID      string       `gorm:"size:255;not null;uniqueIndex"`
}

func (Following) TableName() string {
	return "following"
}

type Followers struct {
	db *gorm.DB
}

func NewFollowers(db *gorm.DB) *Followers {
	return &Followers{db: db}
}

// Add records actor as a follower. A repeated Follow moves the back
// reference to the newest Follow activity.
func (f *Followers) Add(actor *Actor, follow snowflake.ID) error {
	return f.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ap_actor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"inbox_object_id", "updated_at"}),
	}).Omit("Actor").Create(&Follower{
		ID:            snowflake.Now(),
		ActorID:       actor.ID,
		InboxObjectID: follow,
		APActorID:     actor.APID,
	}).Error
}

// Remove deletes the follower row for the actor, if any.
func (f *Followers) Remove(actorID snowflake.ID) error {
	return f.db.Where("actor_id = ?", actorID).Delete(&Follower{}).Error
}

// RemoveByFollow deletes the follower row created by the given Follow.
func (f *Followers) RemoveByFollow(follow snowflake.ID) (int64, error) {
	res := f.db.Where("inbox_object_id = ?", follow).Delete(&Follower{})
	return res.RowsAffected, res.Error
}

// IsFollower reports whether apID follows the local actor.
func (f *Followers) IsFollower(apID string) (bool, error) {
	var n int64
	err := f.db.Model(&Follower{}).Where("ap_actor_id = ?", apID).Count(&n).Error
	return n > 0, err
}

// All returns the followers whose actors are not deleted, with their actors.
func (f *Followers) All() ([]*Follower, error) {
	var followers []*Follower
	err := f.db.Joins("Actor").Where("Actor.is_deleted = ?", false).Order("followers.id").Find(&followers).Error
	return followers, err
}

type Followings struct {
	db *gorm.DB
}

func NewFollowings(db *gorm.DB) *Followings {
	return &Followings{db: db}
}

// Add records that the local actor follows actor.
func (f *Followings) Add(actor *Actor, follow snowflake.ID) error {
	return f.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ap_actor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"outbox_object_id", "updated_at"}),
	}).Omit("Actor").Create(&Following{
		ID:             snowflake.Now(),
		ActorID:        actor.ID,
		OutboxObjectID: follow,
		APActorID:      actor.APID,
	}).Error
}

// Find returns the following row for apID.
func (f *Followings) Find(apID string) (*Following, error) {
	var following Following
	return &following, f.db.Where("ap_actor_id = ?", apID).Take(&following).Error
}

// IsFollowing reports whether the local actor follows apID.
func (f *Followings) IsFollowing(apID string) (bool, error) {
	var n int64
	err := f.db.Model(&Following{}).Where("ap_actor_id = ?", apID).Count(&n).Error
	return n > 0, err
}

// Remove deletes the following row for the actor, if any.
func (f *Followings) Remove(actorID snowflake.ID) error {
	return f.db.Where("actor_id = ?", actorID).Delete(&Following{}).Error
}

// All returns every followed actor.
func (f *Followings) All() ([]*Following, error) {
	var following []*Following
	return following, f.db.Preload("Actor").Order("id").Find(&following).Error
}
