package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestObjects(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Assert ByAPID chooses the store from the id", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		remote := MockInboxObject(t, tx, alice, "Note")
		local := MockOutboxObject(t, tx, "Note")

		objects := NewObjects(tx, testBaseURL)
		obj, err := objects.ByAPID(remote.APID)
		require.NoError(err)
		require.False(obj.IsLocal())
		require.Equal(remote.Ref(), obj.Ref())

		obj, err = objects.ByAPID(local.APID)
		require.NoError(err)
		require.True(obj.IsLocal())

		resolved, err := objects.Resolve(obj.Ref())
		require.NoError(err)
		require.Equal(local.APID, resolved.APID())

		_, err = objects.ByAPID(testBaseURL + "/o/missing")
		require.True(errors.Is(err, gorm.ErrRecordNotFound))
		require.False(objects.IsLocal(testBaseURL + ".evil/o/1"))
	})

	t.Run("Assert duplicate ap_id is ErrDuplicatedKey", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		first := MockInboxObject(t, tx, alice, "Note")
		dup := *first
		dup.ID = 0
		err := tx.Transaction(func(tx *gorm.DB) error {
			return NewInboxObjects(tx).Create(&dup)
		})
		require.ErrorIs(err, gorm.ErrDuplicatedKey)
	})

	t.Run("Assert ap_id columns keep their names", func(t *testing.T) {
		require := require.New(t)
		migrator := db.Migrator()
		for model, columns := range map[any][]string{
			&Actor{}:        {"ap_id"},
			&InboxObject{}:  {"ap_id", "activity_object_ap_id", "liked_via_outbox_object_ap_id", "announced_via_outbox_object_ap_id"},
			&OutboxObject{}: {"ap_id", "activity_object_ap_id"},
		} {
			for _, column := range columns {
				require.True(migrator.HasColumn(model, column), "%T.%s", model, column)
			}
		}

		tx := db.Begin()
		defer tx.Rollback()
		alice := MockActor(t, tx, "alice", "remote.example")
		note := MockInboxObject(t, tx, alice, "Note")
		del := MockInboxObject(t, tx, alice, "Delete", func(o *InboxObject) { o.ActivityObjectAPID = note.APID })

		ok, err := NewInboxObjects(tx).Exists(note.APID)
		require.NoError(err)
		require.True(ok)
		found, err := NewInboxObjects(tx).FindDeleteFor(note.APID)
		require.NoError(err)
		require.Equal(del.ID, found.ID)
		actor, err := NewActors(tx).FindByAPID(alice.APID)
		require.NoError(err)
		require.Equal(alice.ID, actor.ID)
	})

	t.Run("Assert an id collision is retried with a fresh id", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		first := MockInboxObject(t, tx, alice, "Create")
		second := MockInboxObject(t, tx, alice, "Note", func(o *InboxObject) { o.ID = first.ID })
		require.NotEqual(first.ID, second.ID)
		stored, err := NewInboxObjects(tx).FindByID(second.ID)
		require.NoError(err)
		require.Equal(second.APID, stored.APID)

		local := MockOutboxObject(t, tx, "Create")
		other := MockOutboxObject(t, tx, "Note", func(o *OutboxObject) { o.ID = local.ID })
		require.NotEqual(local.ID, other.ID)
	})

	t.Run("Assert replies are counted across both stores", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		parent := MockOutboxObject(t, tx, "Note")
		alice := MockActor(t, tx, "alice", "remote.example")
		MockInboxObject(t, tx, alice, "Note", func(o *InboxObject) { o.InReplyTo = parent.APID })
		deleted := MockInboxObject(t, tx, alice, "Note", func(o *InboxObject) { o.InReplyTo = parent.APID })
		MockOutboxObject(t, tx, "Note", func(o *OutboxObject) { o.InReplyTo = parent.APID })

		objects := NewObjects(tx, testBaseURL)
		require.NoError(objects.RecountReplies(parent.APID))
		parent, err := NewOutboxObjects(tx).FindByID(parent.ID)
		require.NoError(err)
		require.EqualValues(3, parent.RepliesCount)

		require.NoError(NewInboxObjects(tx).MarkDeleted(deleted))
		require.NoError(objects.RecountReplies(parent.APID))
		parent, err = NewOutboxObjects(tx).FindByID(parent.ID)
		require.NoError(err)
		require.EqualValues(2, parent.RepliesCount)
	})

	t.Run("Assert cascade marks activities of both stores deleted", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		note := MockInboxObject(t, tx, alice, "Note")
		like := MockOutboxObject(t, tx, "Like", func(o *OutboxObject) { o.ActivityObjectAPID = note.APID })
		announce := MockInboxObject(t, tx, alice, "Announce", func(o *InboxObject) { o.ActivityObjectAPID = note.APID })

		require.NoError(NewObjects(tx, testBaseURL).CascadeDelete(note.APID))

		like, err := NewOutboxObjects(tx).FindByID(like.ID)
		require.NoError(err)
		require.True(like.IsDeleted)
		announce, err = NewInboxObjects(tx).FindByID(announce.ID)
		require.NoError(err)
		require.True(announce.IsDeleted)
	})

	t.Run("Assert counters never go below zero", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		note := MockOutboxObject(t, tx, "Note")
		outbox := NewOutboxObjects(tx)
		require.NoError(outbox.AdjustLikes(note, 1))
		require.EqualValues(1, note.LikesCount)
		require.NoError(outbox.AdjustLikes(note, -1))
		require.NoError(outbox.AdjustLikes(note, -1))
		require.EqualValues(0, note.LikesCount)
		require.NoError(outbox.AdjustAnnounces(note, -1))
		require.EqualValues(0, note.AnnouncesCount)
	})

	t.Run("Assert recent announces only counts visible ones in the window", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		note := MockInboxObject(t, tx, alice, "Note")
		MockInboxObject(t, tx, alice, "Announce", func(o *InboxObject) { o.ActivityObjectAPID = note.APID })
		MockInboxObject(t, tx, alice, "Announce", func(o *InboxObject) {
			o.ActivityObjectAPID = note.APID
			o.IsHiddenFromStream = true
		})
		MockInboxObject(t, tx, alice, "Announce", func(o *InboxObject) {
			o.ActivityObjectAPID = note.APID
			o.APPublishedAt = time.Now().Add(-2 * time.Hour)
		})
		n, err := NewInboxObjects(tx).RecentAnnounces(note.APID, time.Now().Add(-time.Hour))
		require.NoError(err)
		require.EqualValues(1, n)
	})

	t.Run("Assert conversation spans both stores and filters private objects", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		MockInboxObject(t, tx, alice, "Note", func(o *InboxObject) { o.Conversation = "conv" })
		MockInboxObject(t, tx, alice, "Note", func(o *InboxObject) {
			o.Conversation = "conv"
			o.Visibility = Direct
		})
		MockOutboxObject(t, tx, "Note", func(o *OutboxObject) { o.Conversation = "conv" })
		MockOutboxObject(t, tx, "Create", func(o *OutboxObject) { o.Conversation = "conv" })

		objects := NewObjects(tx, testBaseURL)
		objs, err := objects.Conversation("conv", false)
		require.NoError(err)
		require.Len(objs, 2)
		objs, err = objects.Conversation("conv", true)
		require.NoError(err)
		require.Len(objs, 3)
	})
}
