package activitypub

import (
	"context"
	"testing"
	"time"

	"github.com/davecheney/solo/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func voteNote(actor *models.Actor, question, name string) map[string]any {
	return map[string]any{
		"id":           actor.APID + "/votes/" + uuid.NewString(),
		"type":         "Note",
		"attributedTo": actor.APID,
		"name":         name,
		"inReplyTo":    question,
		"to":           []any{testBaseURL},
		"published":    formatTime(time.Now()),
	}
}

func optionCounts(question map[string]any) map[string]int {
	counts := make(map[string]int)
	_, options := pollOptions(question)
	for _, opt := range options {
		replies := mapFromAny(opt["replies"])
		counts[stringFromAny(opt["name"])] = intFromAny(replies["totalItems"])
	}
	return counts
}

func TestLocalPoll(t *testing.T) {
	db := setupTestDB(t)

	newQuestion := func(t *testing.T, env *Env) *models.OutboxObject {
		t.Helper()
		q, err := env.SendCreate(context.Background(), CreateParams{
			Type:                "Question",
			Source:              "pick one",
			PollType:            "oneOf",
			PollAnswers:         []string{"A", "B"},
			PollDurationMinutes: 60,
		})
		require.NoError(t, err)
		return q
	}

	t.Run("Assert votes are tallied", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		q := newQuestion(t, env)

		for name, choice := range map[string]string{"bob": "A", "carol": "A", "dave": "B"} {
			voter := mockActor(t, env, f, name, "remote.example")
			vote := voteNote(voter, q.APID, choice)
			require.NoError(env.Ingest(context.Background(), activity(voter, "Create", vote), voter.APID))

			stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(vote))
			require.NoError(err)
			require.True(stored.IsTransient)
		}

		q, err := models.NewOutboxObjects(tx).FindByAPID(q.APID)
		require.NoError(err)
		require.Equal(3, intFromAny(q.APObject["votersCount"]))
		require.Equal(map[string]int{"A": 2, "B": 1}, optionCounts(q.APObject))
		require.EqualValues(0, q.RepliesCount)
		require.Equal("Create", env.Activity(q)["type"])

		var updates []*models.OutboxObject
		require.NoError(tx.Where("ap_type = ? AND activity_object_ap_id = ?", "Update", q.APID).Find(&updates).Error)
		require.Len(updates, 3)
		ids := make(map[string]bool)
		for _, update := range updates {
			ids[update.APID] = true
		}
		require.Len(ids, 3)
	})

	t.Run("Assert votes for unknown options are ignored", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		q := newQuestion(t, env)
		bob := mockActor(t, env, f, "bob", "remote.example")

		vote := voteNote(bob, q.APID, "C")
		require.NoError(env.Ingest(context.Background(), activity(bob, "Create", vote), bob.APID))

		tally, err := models.NewPollAnswers(tx).Tally(q.ID)
		require.NoError(err)
		require.EqualValues(0, tally.Voters)
	})

	t.Run("Assert a closed poll is not tallied", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env, f := newTestEnv(t, tx)
		q := newQuestion(t, env)
		q.APObject["endTime"] = formatTime(time.Now().Add(-time.Hour))
		require.NoError(models.NewOutboxObjects(tx).Save(q))

		bob := mockActor(t, env, f, "bob", "remote.example")
		vote := voteNote(bob, q.APID, "A")
		require.NoError(env.Ingest(context.Background(), activity(bob, "Create", vote), bob.APID))

		q, err := models.NewOutboxObjects(tx).FindByAPID(q.APID)
		require.NoError(err)
		require.Equal(0, intFromAny(q.APObject["votersCount"]))
		require.Equal(map[string]int{"A": 0, "B": 0}, optionCounts(q.APObject))
	})
}

func TestSendVote(t *testing.T) {
	require := require.New(t)
	db := setupTestDB(t)
	tx := db.Begin()
	defer tx.Rollback()
	env, f := newTestEnv(t, tx)
	bob := mockActor(t, env, f, "bob", "remote.example")

	question := remoteNote(bob, "<p>tabs or spaces?</p>")
	question["type"] = "Question"
	question["endTime"] = formatTime(time.Now().Add(time.Hour))
	question["oneOf"] = []any{
		map[string]any{"type": "Note", "name": "tabs"},
		map[string]any{"type": "Note", "name": "spaces"},
	}
	require.NoError(env.Ingest(context.Background(), activity(bob, "Create", question), bob.APID))

	_, err := env.SendVote(context.Background(), idOf(question), []string{"tabs", "spaces"})
	require.ErrorIs(err, ErrValidation)

	_, err = env.SendVote(context.Background(), idOf(question), []string{"both"})
	require.ErrorIs(err, ErrValidation)

	votes, err := env.SendVote(context.Background(), idOf(question), []string{"tabs"})
	require.NoError(err)
	require.Len(votes, 1)
	vote := votes[0]
	require.True(vote.IsTransient)
	require.Equal("tabs", vote.APObject["name"])
	require.Equal(idOf(question), vote.InReplyTo)

	items, err := models.NewOutgoingActivities(tx).ForObject(vote.ID)
	require.NoError(err)
	require.Len(items, 1)
	require.Equal(bob.Inbox(), items[0].Recipient)

	stored, err := models.NewInboxObjects(tx).FindByAPID(idOf(question))
	require.NoError(err)
	require.Equal([]string{"tabs"}, []string(stored.VotedForAnswers))

	_, err = env.SendVote(context.Background(), idOf(question), []string{"tabs"})
	require.ErrorIs(err, ErrValidation)

	_, err = env.SendVote(context.Background(), "https://remote.example/questions/404", []string{"tabs"})
	require.ErrorIs(err, ErrValidation)
}
