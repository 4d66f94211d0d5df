package activitypub

import (
	"context"
	"testing"
	"time"

	"github.com/davecheney/solo/internal/algorithms"
	"github.com/davecheney/solo/models"
	"github.com/stretchr/testify/require"
)

func TestBuildReplyTree(t *testing.T) {
	db := setupTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()
	env, f := newTestEnv(t, tx)
	bob := mockActor(t, env, f, "bob", "remote.example")
	carol := mockActor(t, env, f, "carol", "remote.example")

	root, err := env.SendCreate(context.Background(), CreateParams{Source: "root"})
	require.NoError(t, err)

	start := time.Now().Add(time.Minute)
	reply := func(actor *models.Actor, parent string, offset int) map[string]any {
		note := remoteNote(actor, "<p>reply</p>")
		note["inReplyTo"] = parent
		note["published"] = formatTime(start.Add(time.Duration(offset) * time.Second))
		require.NoError(t, env.Ingest(context.Background(), activity(actor, "Create", note), actor.APID))
		return note
	}
	r1 := reply(bob, root.APID, 1)
	r2 := reply(carol, root.APID, 2)
	r11 := reply(carol, idOf(r1), 3)

	apids := func(objs []*models.Object) []string {
		return algorithms.Map(objs, (*models.Object).APID)
	}
	lookup := func(apID string) *models.Object {
		obj, err := env.objects(tx).ByAPID(apID)
		require.NoError(t, err)
		return obj
	}

	t.Run("Assert replies share the conversation of the root", func(t *testing.T) {
		require := require.New(t)
		for _, id := range []string{idOf(r1), idOf(r2), idOf(r11)} {
			require.Equal(root.Conversation, lookup(id).Conversation())
		}
		require.EqualValues(2, lookup(root.APID).Outbox.RepliesCount)
		require.EqualValues(1, lookup(idOf(r1)).Inbox.RepliesCount)
	})

	t.Run("Assert the tree is ordered by publication", func(t *testing.T) {
		require := require.New(t)
		tree, err := env.BuildReplyTree(lookup(root.APID), false)
		require.NoError(err)
		require.True(tree.IsRoot)
		require.True(tree.IsRequested)
		require.Len(tree.Children, 2)
		require.Equal(idOf(r1), tree.Children[0].Object.APID())
		require.Equal(idOf(r2), tree.Children[1].Object.APID())
		require.Len(tree.Children[0].Children, 1)
		require.Equal(idOf(r11), tree.Children[0].Children[0].Object.APID())

		ancestors, descendants := tree.Flatten()
		require.Empty(ancestors)
		require.Equal([]string{idOf(r1), idOf(r11), idOf(r2)}, apids(descendants))
	})

	t.Run("Assert flattening a reply yields its ancestors", func(t *testing.T) {
		require := require.New(t)
		tree, err := env.BuildReplyTree(lookup(idOf(r11)), false)
		require.NoError(err)
		require.False(tree.IsRequested)

		ancestors, descendants := tree.Flatten()
		require.Equal([]string{root.APID, idOf(r1)}, apids(ancestors))
		require.Empty(descendants)
	})

	t.Run("Assert private replies are hidden unless requested", func(t *testing.T) {
		require := require.New(t)
		private := remoteNote(bob, "<p>psst</p>")
		private["inReplyTo"] = root.APID
		private["to"] = []any{testBaseURL}
		private["cc"] = []any{}
		require.NoError(env.Ingest(context.Background(), activity(bob, "Create", private), bob.APID))

		tree, err := env.BuildReplyTree(lookup(root.APID), false)
		require.NoError(err)
		require.Len(tree.Children, 2)

		tree, err = env.BuildReplyTree(lookup(root.APID), true)
		require.NoError(err)
		require.Len(tree.Children, 3)
	})
}
