package models

import (
	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TaggedOutboxObject records that an outbox object carries a hashtag.
type TaggedOutboxObject struct {
	ID             uint64       `gorm:"primarykey"`
	OutboxObjectID snowflake.ID `gorm:"not null;uniqueIndex:uidx_tagged_outbox_objects_object_tag"`
	Tag            string       `gorm:"size:128;not null;uniqueIndex:uidx_tagged_outbox_objects_object_tag"`
}

type Tags struct {
	db *gorm.DB
}

func NewTags(db *gorm.DB) *Tags {
	return &Tags{db: db}
}

// Tag records tags for the outbox object id, ignoring tags already recorded.
func (t *Tags) Tag(id snowflake.ID, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	rows := make([]*TaggedOutboxObject, 0, len(tags))
	for _, tag := range tags {
		rows = append(rows, &TaggedOutboxObject{OutboxObjectID: id, Tag: tag})
	}
	return t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// Tagged returns the outbox objects tagged with tag.
func (t *Tags) Tagged(tag string) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	return ids, t.db.Model(&TaggedOutboxObject{}).Where("tag = ?", tag).Order("outbox_object_id DESC").Pluck("outbox_object_id", &ids).Error
}
