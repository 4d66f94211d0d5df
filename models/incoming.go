package models

import (
	"gorm.io/gorm"
)

// IncomingActivity is a payload delivered to the shared inbox whose HTTP
// signature has been verified, waiting to be ingested.
type IncomingActivity struct {
	Request
	// SentBy is the ActivityPub id of the actor that signed the delivery.
	SentBy  string         `gorm:"size:255;not null"`
	Payload map[string]any `gorm:"serializer:json;not null"`
}

type IncomingActivities struct {
	db *gorm.DB
}

func NewIncomingActivities(db *gorm.DB) *IncomingActivities {
	return &IncomingActivities{db: db}
}

// Create queues payload for ingestion.
func (i *IncomingActivities) Create(sentBy string, payload map[string]any) (*IncomingActivity, error) {
	in := &IncomingActivity{
		SentBy:  sentBy,
		Payload: payload,
	}
	return in, i.db.Create(in).Error
}
