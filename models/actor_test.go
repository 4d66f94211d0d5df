package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActors(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Assert save derives handle and server", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		require.Equal("https://remote.example/users/alice", alice.APID)
		require.Equal("@alice@remote.example", alice.Handle)
		require.Equal("remote.example", alice.Server)
		require.Equal("https://remote.example/inbox", alice.Inbox())
		require.Equal("https://remote.example/users/alice#main-key", alice.PublicKeyID())

		found, err := NewActors(tx).FindByKeyID("https://remote.example/users/alice#main-key")
		require.NoError(err)
		require.Equal(alice.ID, found.ID)
	})

	t.Run("Assert saving an existing actor overwrites its document", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "remote.example")
		doc := alice.Document
		doc["name"] = "Alice Example"
		doc["alsoKnownAs"] = []any{"https://old.example/users/alice"}
		updated, err := NewActors(tx).Save(doc, false)
		require.NoError(err)
		require.Equal(alice.ID, updated.ID)
		require.Equal("Alice Example", updated.Name())
		require.Equal([]string{"https://old.example/users/alice"}, updated.AlsoKnownAs())
	})

	t.Run("Assert non actor documents are rejected", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := NewActors(tx).Save(map[string]any{
			"id":   "https://remote.example/notes/1",
			"type": "Note",
		}, false)
		require.Error(err)
	})
}
