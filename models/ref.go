package models

import (
	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Store names one of the two object stores.
type Store string

const (
	StoreInbox  Store = "inbox"
	StoreOutbox Store = "outbox"
)

func (Store) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('', 'inbox', 'outbox')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// Ref is an edge to a row in either store. The zero Ref points nowhere.
type Ref struct {
	Store Store        `gorm:"not null;default:''"`
	ID    snowflake.ID `gorm:"not null;default:0"`
}

// InboxRef returns a Ref to the inbox object id.
func InboxRef(id snowflake.ID) Ref { return Ref{Store: StoreInbox, ID: id} }

// OutboxRef returns a Ref to the outbox object id.
func OutboxRef(id snowflake.ID) Ref { return Ref{Store: StoreOutbox, ID: id} }

func (r Ref) IsZero() bool { return r.ID == 0 }

// Visibility is derived from an object's addressing.
type Visibility string

const (
	Public        Visibility = "public"
	Unlisted      Visibility = "unlisted"
	FollowersOnly Visibility = "followers-only"
	Direct        Visibility = "direct"
)

func (Visibility) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('public', 'unlisted', 'followers-only', 'direct')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// IsPublic reports whether v may be shown to anyone.
func (v Visibility) IsPublic() bool {
	return v == Public || v == Unlisted
}
