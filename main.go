package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/davecheney/solo/activitypub"
	iap "github.com/davecheney/solo/internal/activitypub"
	"github.com/davecheney/solo/internal/config"
	"github.com/davecheney/solo/internal/ldsig"
	"github.com/davecheney/solo/internal/webfinger"
	"github.com/davecheney/solo/models"
	"github.com/joho/godotenv"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Context struct {
	Debug  bool
	Logger *slog.Logger
	Node   *config.Config

	gorm.Config
}

var cli struct {
	Debug      bool   `help:"Enable debug logging."`
	ConfigFile string `name:"config" help:"Path to the configuration file." default:"config.yaml" type:"path"`
	DSN        string `help:"Data source name, overrides the configuration."`

	Serve        ServeCmd        `cmd:"" help:"Serve the node and run the background workers."`
	AutoMigrate  AutoMigrateCmd  `cmd:"" help:"Create or update the database schema."`
	Init         InitCmd         `cmd:"" help:"Generate the keypair of the local actor."`
	Post         PostCmd         `cmd:"" help:"Publish a note, article or poll."`
	Edit         EditCmd         `cmd:"" help:"Replace the source of a published object."`
	Delete       DeleteCmd       `cmd:"" help:"Delete a published object."`
	Follow       FollowCmd       `cmd:"" help:"Follow a remote actor."`
	Unfollow     UnfollowCmd     `cmd:"" help:"Stop following a remote actor."`
	Pending      PendingCmd      `cmd:"" help:"List follow requests awaiting approval."`
	Accept       AcceptCmd       `cmd:"" help:"Accept a pending follow request."`
	Reject       RejectCmd       `cmd:"" help:"Reject a pending follow request."`
	Like         LikeCmd         `cmd:"" help:"Like a remote object."`
	Announce     AnnounceCmd     `cmd:"" help:"Announce an object."`
	Undo         UndoCmd         `cmd:"" help:"Undo a Like, Announce or Follow."`
	Vote         VoteCmd         `cmd:"" help:"Vote in a remote poll."`
	Move         MoveCmd         `cmd:"" help:"Move the local actor to another account."`
	SelfDestruct SelfDestructCmd `cmd:"" help:"Delete the local actor everywhere it is known."`
	FetchActor   FetchActorCmd   `cmd:"" help:"Fetch and store a remote actor."`
	Thread       ThreadCmd       `cmd:"" help:"Print the reply tree of an object."`
	Recount      RecountCmd      `cmd:"" help:"Recompute the replies count of every object."`
	Housekeeping HousekeepingCmd `cmd:"" help:"Prune delivered work items."`
	Stats        StatsCmd        `cmd:"" help:"Show the size of the store."`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		kong.Must(&cli).FatalIfErrorf(err)
	}
	ctx := kong.Parse(&cli)
	cfg, err := config.Load(cli.ConfigFile)
	ctx.FatalIfErrorf(err)
	if cli.DSN != "" {
		cfg.DSN = cli.DSN
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		ctx.FatalIfErrorf(err)
	}
	if cli.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	gormLevel := logger.Warn
	if cli.Debug {
		gormLevel = logger.Info
	}
	err = ctx.Run(&Context{
		Debug:  cli.Debug,
		Logger: log,
		Node:   cfg,
		Config: gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(gormLevel),
		},
	})
	ctx.FatalIfErrorf(err)
}

// openDB connects to the configured database.
func (c *Context) openDB() (*gorm.DB, error) {
	if c.Node.DSN == "" {
		return nil, errors.New("no dsn configured, set dsn or --dsn")
	}
	db, err := gorm.Open(newDialector(c.Node.DSN), &c.Config)
	if err != nil {
		return nil, err
	}
	return db, configureDB(db)
}

// newEnv returns the federation engine for the local actor on db, and the
// signing client it fetches and delivers with.
func (c *Context) newEnv(db *gorm.DB) (*activitypub.Env, *iap.Client, error) {
	local, err := c.Node.Identity()
	if err != nil {
		return nil, nil, err
	}
	client := iap.NewClient(local.KeyID(), local.PrivateKey, c.Node.Fetch.RPS, c.Node.Fetch.Burst)
	env := &activitypub.Env{
		Env: &models.Env{
			DB:     db,
			Logger: c.Logger,
		},
		Config:  c.Node,
		Local:   local,
		Fetcher: client,
		Finger: func(ctx context.Context, handle string) (string, error) {
			return webfinger.Resolve(ctx, client.HTTPClient(), handle)
		},
	}
	env.Verifier = ldsig.NewVerifier(env.PublicKey, client.HTTPClient())
	return env, client, nil
}

// withEnv opens the database and runs fn with the federation engine.
func (c *Context) withEnv(fn func(ctx context.Context, env *activitypub.Env) error) error {
	db, err := c.openDB()
	if err != nil {
		return err
	}
	env, _, err := c.newEnv(db)
	if err != nil {
		return err
	}
	return fn(context.Background(), env)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	buf, err := activitypub.MarshalIndent(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(buf))
	return err
}
