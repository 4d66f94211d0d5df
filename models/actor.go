package models

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/davecheney/solo/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Actor is a cached copy of a remote actor document.
type Actor struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	APID      string         `gorm:"column:ap_id;size:255;uniqueIndex;not null"`
	Type      string         `gorm:"size:32;not null"`
	Handle    string         `gorm:"size:255;index"`
	Server    string         `gorm:"size:255;index;not null"`
	Document  map[string]any `gorm:"serializer:json;not null"`
	IsBlocked bool           `gorm:"not null;default:false"`
	IsDeleted bool           `gorm:"not null;default:false"`
}

// actorTypes are the ActivityStreams actor types.
var actorTypes = map[string]bool{
	"Application":  true,
	"Group":        true,
	"Organization": true,
	"Person":       true,
	"Service":      true,
}

// IsActorType reports whether typ is one of the ActivityStreams actor types.
func IsActorType(typ string) bool {
	return actorTypes[typ]
}

func (a *Actor) BeforeSave(tx *gorm.DB) error {
	id, _ := a.Document["id"].(string)
	if id == "" {
		return errors.New("actor document has no id")
	}
	u, err := url.Parse(id)
	if err != nil || u.Host == "" {
		return fmt.Errorf("actor has invalid id %q", id)
	}
	typ, _ := a.Document["type"].(string)
	if !IsActorType(typ) {
		return fmt.Errorf("actor %s has unexpected type %q", id, typ)
	}
	a.APID = id
	a.Type = typ
	a.Server = u.Host
	if username := a.PreferredUsername(); username != "" {
		a.Handle = "@" + username + "@" + u.Host
	}
	if a.ID == 0 {
		a.ID = snowflake.Now()
	}
	return nil
}

func (a *Actor) str(key string) string {
	s, _ := a.Document[key].(string)
	return s
}

func (a *Actor) PreferredUsername() string { return a.str("preferredUsername") }
func (a *Actor) Name() string              { return a.str("name") }
func (a *Actor) InboxURL() string          { return a.str("inbox") }
func (a *Actor) OutboxURL() string         { return a.str("outbox") }
func (a *Actor) FollowersURL() string      { return a.str("followers") }

// URL returns the actor's profile page, falling back to its id.
func (a *Actor) URL() string {
	if u := a.str("url"); u != "" {
		return u
	}
	return a.APID
}

func (a *Actor) SharedInboxURL() string {
	endpoints, _ := a.Document["endpoints"].(map[string]any)
	s, _ := endpoints["sharedInbox"].(string)
	return s
}

// Inbox returns the actor's shared inbox URL if it has one, otherwise its inbox.
func (a *Actor) Inbox() string {
	if a.SharedInboxURL() != "" {
		return a.SharedInboxURL()
	}
	return a.InboxURL()
}

// PublicKeyID returns the id of the actor's public key.
func (a *Actor) PublicKeyID() string {
	key, _ := a.Document["publicKey"].(map[string]any)
	s, _ := key["id"].(string)
	return s
}

// PublicKeyPEM returns the actor's public key, PEM encoded.
func (a *Actor) PublicKeyPEM() []byte {
	key, _ := a.Document["publicKey"].(map[string]any)
	s, _ := key["publicKeyPem"].(string)
	return []byte(s)
}

// AlsoKnownAs returns the aliases the actor claims.
func (a *Actor) AlsoKnownAs() []string {
	var aka []string
	switch v := a.Document["alsoKnownAs"].(type) {
	case string:
		aka = append(aka, v)
	case []any:
		for _, s := range v {
			if s, ok := s.(string); ok {
				aka = append(aka, s)
			}
		}
	}
	return aka
}

type Actors struct {
	db *gorm.DB
}

func NewActors(db *gorm.DB) *Actors {
	return &Actors{db: db}
}

// FindByAPID returns the actor with the given ActivityPub id.
func (a *Actors) FindByAPID(apID string) (*Actor, error) {
	var actor Actor
	return &actor, a.db.Where("ap_id = ?", apID).Take(&actor).Error
}

// FindByHandle returns the actor with the given @user@host handle.
func (a *Actors) FindByHandle(handle string) (*Actor, error) {
	var actor Actor
	return &actor, a.db.Where("handle = ? AND is_deleted = ?", handle, false).Take(&actor).Error
}

// FindByKeyID returns the actor owning the public key keyID.
func (a *Actors) FindByKeyID(keyID string) (*Actor, error) {
	u, err := url.Parse(keyID)
	if err != nil {
		return nil, err
	}
	u.Fragment = ""
	return a.FindByAPID(u.String())
}

// Save inserts the actor document, or overwrites the stored document if the
// actor is already known.
func (a *Actors) Save(doc map[string]any, blocked bool) (*Actor, error) {
	actor := &Actor{
		Document:  doc,
		IsBlocked: blocked,
	}
	err := a.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ap_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "handle", "document", "is_blocked", "updated_at"}),
	}).Create(actor).Error
	if err != nil {
		return nil, err
	}
	return a.FindByAPID(actor.APID)
}

// MarkDeleted flags the actor as deleted.
func (a *Actors) MarkDeleted(actor *Actor) error {
	actor.IsDeleted = true
	return a.db.Model(actor).UpdateColumn("is_deleted", true).Error
}

// Known returns every non-deleted actor.
func (a *Actors) Known() ([]*Actor, error) {
	var actors []*Actor
	return actors, a.db.Where("is_deleted = ?", false).Order("id").Find(&actors).Error
}
