package activitypub

import (
	"context"
	"testing"
	"time"

	"github.com/davecheney/solo/models"
	"github.com/stretchr/testify/require"
)

func TestIngestCreate(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Assert a Note from a followed actor is shown in the stream", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		bob := mockActor(t, env, f, "bob", "remote.example")
		require.NoError(models.NewFollowings(tx).Add(bob, 1))

		note := remoteNote(bob, "<p>hello</p>")
		create := activity(bob, "Create", note)
		require.NoError(env.Ingest(context.Background(), create, bob.APID))

		stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(note))
		require.NoError(err)
		require.False(stored.IsHiddenFromStream)
		require.Equal(models.Public, stored.Visibility)

		act, err := models.NewInboxObjects(tx).FindByAPID(idOf(create))
		require.NoError(err)
		require.Equal(stored.Ref(), act.RelatesTo)
		require.Equal(idOf(note), act.ActivityObjectAPID)
	})

	t.Run("Assert a Note from a stranger is hidden", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		bob := mockActor(t, env, f, "bob", "remote.example")

		note := remoteNote(bob, "<p>hello</p>")
		require.NoError(env.Ingest(context.Background(), activity(bob, "Create", note), bob.APID))

		stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(note))
		require.NoError(err)
		require.True(stored.IsHiddenFromStream)
	})

	t.Run("Assert a mention of the local actor is notified", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		bob := mockActor(t, env, f, "bob", "remote.example")

		note := remoteNote(bob, "<p>hi @alice</p>")
		note["tag"] = []any{map[string]any{
			"type": "Mention",
			"href": testBaseURL,
			"name": "@alice@solo.example",
		}}
		require.NoError(env.Ingest(context.Background(), activity(bob, "Create", note), bob.APID))

		stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(note))
		require.NoError(err)
		require.False(stored.IsHiddenFromStream)
		notifs, err := models.NewNotifications(tx).OfType(models.NotificationMention)
		require.NoError(err)
		require.Len(notifs, 1)
	})

	t.Run("Assert duplicate deliveries are stored once", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		bob := mockActor(t, env, f, "bob", "remote.example")

		create := activity(bob, "Create", remoteNote(bob, "<p>hello</p>"))
		require.NoError(env.Ingest(context.Background(), create, bob.APID))
		require.NoError(env.Ingest(context.Background(), create, bob.APID))

		var n int64
		require.NoError(tx.Model(&models.InboxObject{}).Where("ap_id = ?", idOf(create)).Count(&n).Error)
		require.EqualValues(1, n)
	})

	t.Run("Assert a Create of another actor's object is rejected", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		bob := mockActor(t, env, f, "bob", "remote.example")
		mallory := mockActor(t, env, f, "mallory", "evil.example")

		create := activity(mallory, "Create", remoteNote(bob, "<p>forged</p>"))
		err := env.Ingest(context.Background(), create, mallory.APID)
		require.ErrorIs(err, ErrValidation)

		ok, err := models.NewInboxObjects(tx).Exists(idOf(create))
		require.NoError(err)
		require.False(ok)
	})

	t.Run("Assert activities from blocked servers are dropped", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		env.Config.BlockedServers = []string{"evil.example"}
		mallory := mockActor(t, env, f, "mallory", "evil.example")

		create := activity(mallory, "Create", remoteNote(mallory, "<p>spam</p>"))
		require.NoError(env.Ingest(context.Background(), create, mallory.APID))

		ok, err := models.NewInboxObjects(tx).Exists(idOf(create))
		require.NoError(err)
		require.False(ok)
	})
}

func TestIngestReplies(t *testing.T) {
	db := setupTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()
	env, f := newTestEnv(t, tx)
	bob := mockActor(t, env, f, "bob", "remote.example")
	local := mockOutboxObject(t, env, "Note")

	reply := remoteNote(bob, "<p>nice post</p>")
	reply["inReplyTo"] = local.APID
	require.NoError(t, env.Ingest(context.Background(), activity(bob, "Create", reply), bob.APID))

	t.Run("Assert the parent replies count is updated", func(t *testing.T) {
		require := require.New(t)
		parent, err := models.NewOutboxObjects(tx).FindByAPID(local.APID)
		require.NoError(err)
		require.EqualValues(1, parent.RepliesCount)
	})

	t.Run("Assert a reply to a local object is shown in the stream", func(t *testing.T) {
		require := require.New(t)
		stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(reply))
		require.NoError(err)
		require.False(stored.IsHiddenFromStream)
	})

	t.Run("Assert deleting the reply decrements the count", func(t *testing.T) {
		require := require.New(t)
		require.NoError(env.Ingest(context.Background(), activity(bob, "Delete", idOf(reply)), bob.APID))

		stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(reply))
		require.NoError(err)
		require.True(stored.IsDeleted)

		parent, err := models.NewOutboxObjects(tx).FindByAPID(local.APID)
		require.NoError(err)
		require.EqualValues(0, parent.RepliesCount)
	})
}

func TestIngestFollow(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Assert Follow then Undo round trips", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		bob := mockActor(t, env, f, "bob", "remote.example")

		follow := activity(bob, "Follow", testBaseURL)
		require.NoError(env.Ingest(context.Background(), follow, bob.APID))

		ok, err := models.NewFollowers(tx).IsFollower(bob.APID)
		require.NoError(err)
		require.True(ok)

		var accept models.OutboxObject
		require.NoError(tx.Where("ap_type = ? AND activity_object_ap_id = ?", "Accept", idOf(follow)).Take(&accept).Error)
		items, err := models.NewOutgoingActivities(tx).ForObject(accept.ID)
		require.NoError(err)
		require.Len(items, 1)
		require.Equal("https://remote.example/inbox", items[0].Recipient)

		undo := activity(bob, "Undo", follow)
		require.NoError(env.Ingest(context.Background(), undo, bob.APID))

		ok, err = models.NewFollowers(tx).IsFollower(bob.APID)
		require.NoError(err)
		require.False(ok)

		stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(follow))
		require.NoError(err)
		require.NotNil(stored.UndoneByID)

		again := activity(bob, "Undo", follow)
		require.ErrorIs(env.Ingest(context.Background(), again, bob.APID), ErrValidation)

		notifs, err := models.NewNotifications(tx).OfType(models.NotificationUnfollow)
		require.NoError(err)
		require.Len(notifs, 1)
	})

	t.Run("Assert Follow is held when followers are approved manually", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		env.Config.ManuallyApprovesFollowers = true
		bob := mockActor(t, env, f, "bob", "remote.example")

		require.NoError(env.Ingest(context.Background(), activity(bob, "Follow", testBaseURL), bob.APID))

		ok, err := models.NewFollowers(tx).IsFollower(bob.APID)
		require.NoError(err)
		require.False(ok)

		pending, err := models.NewNotifications(tx).OfType(models.NotificationPendingIncomingFollower)
		require.NoError(err)
		require.Len(pending, 1)

		_, err = env.SendAccept(context.Background(), pending[0].ID)
		require.NoError(err)
		ok, err = models.NewFollowers(tx).IsFollower(bob.APID)
		require.NoError(err)
		require.True(ok)

		_, err = env.SendAccept(context.Background(), pending[0].ID)
		require.ErrorIs(err, ErrValidation)
	})

	t.Run("Assert Follow of another actor is discarded", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		bob := mockActor(t, env, f, "bob", "remote.example")

		follow := activity(bob, "Follow", "https://elsewhere.example/users/carol")
		require.NoError(env.Ingest(context.Background(), follow, bob.APID))

		ok, err := models.NewInboxObjects(tx).Exists(idOf(follow))
		require.NoError(err)
		require.False(ok)
	})
}

func TestIngestReactions(t *testing.T) {
	db := setupTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()
	env, f := newTestEnv(t, tx)
	bob := mockActor(t, env, f, "bob", "remote.example")
	carol := mockActor(t, env, f, "carol", "other.example")
	local := mockOutboxObject(t, env, "Note")

	likes := []map[string]any{
		activity(bob, "Like", local.APID),
		activity(carol, "Like", local.APID),
	}
	announce := activity(bob, "Announce", local.APID)
	for _, a := range append(likes, announce) {
		require.NoError(t, env.Ingest(context.Background(), a, idFromAny(a["actor"])))
	}

	t.Run("Assert counters are incremented", func(t *testing.T) {
		require := require.New(t)
		obj, err := models.NewOutboxObjects(tx).FindByAPID(local.APID)
		require.NoError(err)
		require.EqualValues(2, obj.LikesCount)
		require.EqualValues(1, obj.AnnouncesCount)
	})

	t.Run("Assert Undo of a Like decrements the counter", func(t *testing.T) {
		require := require.New(t)
		require.NoError(env.Ingest(context.Background(), activity(carol, "Undo", likes[1]), carol.APID))
		obj, err := models.NewOutboxObjects(tx).FindByAPID(local.APID)
		require.NoError(err)
		require.EqualValues(1, obj.LikesCount)
	})

	t.Run("Assert deleting the object cascades to its reactions", func(t *testing.T) {
		require := require.New(t)
		_, err := env.SendDelete(context.Background(), local.APID)
		require.NoError(err)

		obj, err := models.NewOutboxObjects(tx).FindByAPID(local.APID)
		require.NoError(err)
		require.True(obj.IsDeleted)
		for _, a := range append(likes, announce) {
			stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(a))
			require.NoError(err)
			require.True(stored.IsDeleted, idOf(a))
		}
	})

	t.Run("Assert a Like of an unknown object is discarded", func(t *testing.T) {
		require := require.New(t)
		like := activity(bob, "Like", "https://elsewhere.example/notes/1")
		require.NoError(env.Ingest(context.Background(), like, bob.APID))
		ok, err := models.NewInboxObjects(tx).Exists(idOf(like))
		require.NoError(err)
		require.False(ok)
	})
}

func TestIngestAnnounceOfRemoteObject(t *testing.T) {
	db := setupTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()
	env, f := newTestEnv(t, tx)
	bob := mockActor(t, env, f, "bob", "remote.example")
	carol := mockActor(t, env, f, "carol", "other.example")
	require.NoError(t, models.NewFollowings(tx).Add(bob, 1))

	note := remoteNote(carol, "<p>boost me</p>")
	note["published"] = formatTime(time.Now().Add(-2 * time.Hour))
	f.add(note)

	announce := activity(bob, "Announce", idOf(note))
	require.NoError(t, env.Ingest(context.Background(), announce, bob.APID))

	t.Run("Assert the announced object is fetched and linked", func(t *testing.T) {
		require := require.New(t)
		stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(note))
		require.NoError(err)
		require.True(stored.IsHiddenFromStream)

		act, err := models.NewInboxObjects(tx).FindByAPID(idOf(announce))
		require.NoError(err)
		require.Equal(stored.Ref(), act.RelatesTo)
		require.False(act.IsHiddenFromStream)
	})

	t.Run("Assert a second boost within the window is hidden", func(t *testing.T) {
		require := require.New(t)
		again := activity(bob, "Announce", idOf(note))
		require.NoError(env.Ingest(context.Background(), again, bob.APID))
		act, err := models.NewInboxObjects(tx).FindByAPID(idOf(again))
		require.NoError(err)
		require.True(act.IsHiddenFromStream)
	})

	t.Run("Assert an announced reply recounts its parent", func(t *testing.T) {
		require := require.New(t)
		local := mockOutboxObject(t, env, "Note")
		reply := remoteNote(carol, "<p>replying</p>")
		reply["inReplyTo"] = local.APID
		f.add(reply)

		require.NoError(env.Ingest(context.Background(), activity(bob, "Announce", idOf(reply)), bob.APID))

		parent, err := models.NewOutboxObjects(tx).FindByAPID(local.APID)
		require.NoError(err)
		live, err := env.objects(tx).CountReplies(local.APID)
		require.NoError(err)
		require.EqualValues(1, live)
		require.EqualValues(live, parent.RepliesCount)
	})
}

func TestIngestMove(t *testing.T) {
	db := setupTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()
	env, f := newTestEnv(t, tx)
	bob := mockActor(t, env, f, "bob", "remote.example")
	follow, err := env.sendFollow(tx, bob)
	require.NoError(t, err)
	require.NoError(t, models.NewFollowings(tx).Add(bob, follow.ID))

	t.Run("Assert a target that does not list the old actor is ignored", func(t *testing.T) {
		require := require.New(t)
		impostor := actorDoc("bob", "impostor.example")
		f.add(impostor)
		move := activity(bob, "Move", bob.APID)
		move["target"] = idOf(impostor)
		require.NoError(env.Ingest(context.Background(), move, bob.APID))

		ok, err := models.NewFollowings(tx).IsFollowing(bob.APID)
		require.NoError(err)
		require.True(ok)
		_, err = models.NewOutboxObjects(tx).FindFollow(idOf(impostor))
		require.Error(err)
	})

	t.Run("Assert following moves to the new actor once", func(t *testing.T) {
		require := require.New(t)
		moved := actorDoc("bob", "new.example")
		moved["alsoKnownAs"] = []any{bob.APID}
		f.add(moved)

		for i := 0; i < 2; i++ {
			move := activity(bob, "Move", bob.APID)
			move["target"] = idOf(moved)
			require.NoError(env.Ingest(context.Background(), move, bob.APID))
		}

		ok, err := models.NewFollowings(tx).IsFollowing(bob.APID)
		require.NoError(err)
		require.False(ok)

		var n int64
		require.NoError(tx.Model(&models.OutboxObject{}).Where("ap_type = ? AND activity_object_ap_id = ?", "Follow", idOf(moved)).Count(&n).Error)
		require.EqualValues(1, n)

		old, err := models.NewOutboxObjects(tx).FindByID(follow.ID)
		require.NoError(err)
		require.NotNil(old.UndoneByID)

		notifs, err := models.NewNotifications(tx).OfType(models.NotificationMove)
		require.NoError(err)
		require.Len(notifs, 1)
	})
}
