package models

import "time"

// Request is the bookkeeping shared by rows consumed by a background worker.
type Request struct {
	ID uint64 `gorm:"primarykey"`
	// CreatedAt is the time the request was created.
	CreatedAt time.Time
	// UpdatedAt is the time the request was last updated.
	UpdatedAt time.Time
	// Attempts is the number of times the request has been attempted.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastAttempt is the time the request was last attempted.
	LastAttempt *time.Time
	// LastResult is the result of the last attempt if it failed.
	LastResult string `gorm:"type:text"`
}
