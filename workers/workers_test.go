package workers

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davecheney/solo/activitypub"
	iap "github.com/davecheney/solo/internal/activitypub"
	"github.com/davecheney/solo/internal/config"
	icrypto "github.com/davecheney/solo/internal/crypto"
	"github.com/davecheney/solo/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testBaseURL = "https://solo.example"

var testKey = func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}()

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fetcher map[string]map[string]any

func (f fetcher) Fetch(_ context.Context, uri string, obj *map[string]any) error {
	doc, ok := f[uri]
	if !ok {
		return fmt.Errorf("%s: %w", uri, iap.ErrObjectNotFound)
	}
	*obj = doc
	return nil
}

func (f fetcher) FetchCollection(_ context.Context, uri string, _ int) ([]any, error) {
	return nil, fmt.Errorf("%s: %w", uri, iap.ErrObjectNotFound)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)
	require.NoError(db.AutoMigrate(models.AllTables()...))
	return db
}

func newTestEnv(tx *gorm.DB) *activitypub.Env {
	cfg := config.Default()
	cfg.BaseURL = testBaseURL
	cfg.Username = "alice"
	return &activitypub.Env{
		Env:     &models.Env{DB: tx, Logger: discard},
		Config:  cfg,
		Local:   config.NewIdentity(testBaseURL, "alice", testKey),
		Fetcher: fetcher{},
	}
}

func mockActor(t *testing.T, tx *gorm.DB, name string) *models.Actor {
	t.Helper()
	pem, err := icrypto.PublicKeyPEM(&testKey.PublicKey)
	require.NoError(t, err)
	id := "https://remote.example/users/" + name
	actor, err := models.NewActors(tx).Save(map[string]any{
		"id":                id,
		"type":              "Person",
		"preferredUsername": name,
		"inbox":             id + "/inbox",
		"followers":         id + "/followers",
		"publicKey": map[string]any{
			"id":           id + "#main-key",
			"owner":        id,
			"publicKeyPem": string(pem),
		},
	}, false)
	require.NoError(t, err)
	return actor
}

func createNote(actor *models.Actor) map[string]any {
	note := map[string]any{
		"id":           actor.APID + "/statuses/" + uuid.NewString(),
		"type":         "Note",
		"attributedTo": actor.APID,
		"content":      "<p>hello</p>",
		"to":           []any{activitypub.PublicCollection},
		"published":    time.Now().UTC().Format(time.RFC3339),
	}
	return map[string]any{
		"id":     actor.APID + "/activities/" + uuid.NewString(),
		"type":   "Create",
		"actor":  actor.APID,
		"object": note,
		"to":     []any{activitypub.PublicCollection},
	}
}

func TestIncomingActivityProcessor(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Assert an ingested activity is removed from the queue", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		create := createNote(bob)
		in, err := models.NewIncomingActivities(tx).Create(bob.APID, create)
		require.NoError(err)

		require.NoError(process(tx, incomingScope, ingester(env), deleteRequest[*models.IncomingActivity]))

		var count int64
		require.NoError(tx.Model(&models.IncomingActivity{}).Where("id = ?", in.ID).Count(&count).Error)
		require.EqualValues(0, count)
		note := create["object"].(map[string]any)
		_, err = models.NewInboxObjects(tx).FindByAPID(note["id"].(string))
		require.NoError(err)
	})

	t.Run("Assert an unverifiable forwarded activity is dropped", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		carol := mockActor(t, tx, "carol")
		create := createNote(bob)
		in, err := models.NewIncomingActivities(tx).Create(carol.APID, create)
		require.NoError(err)

		require.NoError(process(tx, incomingScope, ingester(env), deleteRequest[*models.IncomingActivity]))

		var count int64
		require.NoError(tx.Model(&models.IncomingActivity{}).Where("id = ?", in.ID).Count(&count).Error)
		require.EqualValues(0, count)
		exists, err := models.NewInboxObjects(tx).Exists(create["id"].(string))
		require.NoError(err)
		require.False(exists)
	})

	t.Run("Assert exhausted requests are skipped", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		in, err := models.NewIncomingActivities(tx).Create(bob.APID, createNote(bob))
		require.NoError(err)
		require.NoError(tx.Model(in).UpdateColumn("attempts", maxIngestAttempts).Error)

		require.NoError(process(tx, incomingScope, ingester(env), deleteRequest[*models.IncomingActivity]))

		var count int64
		require.NoError(tx.Model(&models.IncomingActivity{}).Where("id = ?", in.ID).Count(&count).Error)
		require.EqualValues(1, count)
	})
}

type post struct {
	inbox string
	body  []byte
}

// poster records deliveries and answers each with status and err.
type poster struct {
	posts  []post
	status int
	err    error
}

func (p *poster) Post(_ context.Context, inbox string, body []byte) (int, error) {
	p.posts = append(p.posts, post{inbox: inbox, body: body})
	return p.status, p.err
}

func findItem(t *testing.T, tx *gorm.DB, obj *models.OutboxObject) *models.OutgoingActivity {
	t.Helper()
	items, err := models.NewOutgoingActivities(tx).ForObject(obj.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func TestDeliverer(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Assert a delivered item is marked sent", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		follow, err := env.SendFollow(context.Background(), bob.APID)
		require.NoError(err)

		p := &poster{status: http.StatusAccepted}
		d := &Deliverer{Env: env, Poster: p, MaxAttempts: 3}
		require.NoError(d.Pass(tx, time.Now()))

		require.Len(p.posts, 1)
		require.Equal(bob.Inbox(), p.posts[0].inbox)
		require.Contains(string(p.posts[0].body), `"Follow"`)
		item := findItem(t, tx, follow)
		require.True(item.IsSent)
		require.False(item.IsErrored)
		require.EqualValues(1, item.Attempts)
		require.Equal(http.StatusAccepted, item.LastStatusCode)

		require.NoError(d.Pass(tx, time.Now()))
		require.Len(p.posts, 1)
	})

	t.Run("Assert a failed delivery is retried later", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		follow, err := env.SendFollow(context.Background(), bob.APID)
		require.NoError(err)

		p := &poster{status: http.StatusInternalServerError, err: errors.New("boom")}
		d := &Deliverer{Env: env, Poster: p, MaxAttempts: 2}
		now := time.Now()
		require.NoError(d.Pass(tx, now))

		item := findItem(t, tx, follow)
		require.False(item.IsSent)
		require.False(item.IsErrored)
		require.EqualValues(1, item.Attempts)
		require.Equal("boom", item.LastResult)
		require.True(item.NextAttempt.After(now))

		// not due yet
		require.NoError(d.Pass(tx, now))
		require.Len(p.posts, 1)

		require.NoError(d.Pass(tx, now.Add(2*time.Hour)))
		require.Len(p.posts, 2)
		item = findItem(t, tx, follow)
		require.True(item.IsErrored)
		require.EqualValues(2, item.Attempts)
	})

	t.Run("Assert a gone inbox is not retried", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		follow, err := env.SendFollow(context.Background(), bob.APID)
		require.NoError(err)

		p := &poster{status: http.StatusGone, err: errors.New("gone")}
		d := &Deliverer{Env: env, Poster: p, MaxAttempts: 12}
		require.NoError(d.Pass(tx, time.Now()))

		item := findItem(t, tx, follow)
		require.True(item.IsErrored)
		require.Equal(http.StatusGone, item.LastStatusCode)
	})

	t.Run("Assert a webmention is sent to the discovered endpoint", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		follow, err := env.SendFollow(context.Background(), bob.APID)
		require.NoError(err)

		var source, target string
		mux := http.NewServeMux()
		mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<link rel="webmention" href="/wm">`))
		})
		mux.HandleFunc("/wm", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(r.ParseForm())
			source, target = r.PostForm.Get("source"), r.PostForm.Get("target")
			w.WriteHeader(http.StatusAccepted)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		// the Follow work item is delivered too
		_, err = models.NewOutgoingActivities(tx).Enqueue(follow.APID, follow.Ref(), srv.URL+"/post")
		require.NoError(err)

		p := &poster{status: http.StatusAccepted}
		d := &Deliverer{Env: env, Poster: p, HTTP: srv.Client(), MaxAttempts: 3}
		require.NoError(d.Pass(tx, time.Now()))

		require.Equal(follow.APID, source)
		require.Equal(srv.URL+"/post", target)
		items, err := models.NewOutgoingActivities(tx).ForObject(follow.ID)
		require.NoError(err)
		require.Len(items, 2)
		for _, item := range items {
			require.True(item.IsSent)
		}
	})
}

func TestRetryAfter(t *testing.T) {
	tests := map[uint32]time.Duration{
		0:  time.Minute,
		1:  time.Minute,
		2:  5 * time.Minute,
		4:  time.Hour,
		6:  24 * time.Hour,
		40: 24 * time.Hour,
	}
	for attempts, want := range tests {
		require.Equal(t, want, retryAfter(attempts), "attempts %d", attempts)
	}
}

func TestHousekeeping(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Assert old finished items are pruned", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := newTestEnv(tx)
		bob := mockActor(t, tx, "bob")
		follow, err := env.SendFollow(context.Background(), bob.APID)
		require.NoError(err)
		now := time.Now()
		old := now.Add(-30 * 24 * time.Hour)

		sent := findItem(t, tx, follow)
		pending, err := models.NewOutgoingActivities(tx).Enqueue("https://remote.example/inbox", follow.Ref(), "")
		require.NoError(err)
		require.NoError(tx.Model(sent).UpdateColumns(map[string]any{"is_sent": true, "updated_at": old}).Error)
		require.NoError(tx.Model(&models.OutgoingActivity{}).Where("id = ?", pending).UpdateColumn("updated_at", old).Error)

		incoming := models.NewIncomingActivities(tx)
		exhausted, err := incoming.Create(bob.APID, createNote(bob))
		require.NoError(err)
		require.NoError(tx.Model(exhausted).UpdateColumns(map[string]any{"attempts": maxIngestAttempts, "updated_at": old}).Error)
		fresh, err := incoming.Create(bob.APID, createNote(bob))
		require.NoError(err)

		require.NoError(Housekeeping(tx, discard, now))

		var ids []uint64
		require.NoError(tx.Model(&models.OutgoingActivity{}).Pluck("id", &ids).Error)
		require.Equal([]uint64{pending}, ids)
		ids = nil
		require.NoError(tx.Model(&models.IncomingActivity{}).Pluck("id", &ids).Error)
		require.Equal([]uint64{fresh.ID}, ids)
	})
}
