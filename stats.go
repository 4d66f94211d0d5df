package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/davecheney/solo/models"
	"github.com/dustin/go-humanize"
)

type StatsCmd struct {
}

func (s *StatsCmd) Run(ctx *Context) error {
	db, err := ctx.openDB()
	if err != nil {
		return err
	}
	stats, err := models.CollectStats(db)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, row := range []struct {
		name  string
		count int64
	}{
		{"local posts", stats.LocalPosts},
		{"inbox objects", stats.InboxObjects},
		{"known actors", stats.Actors},
		{"followers", stats.Followers},
		{"following", stats.Following},
		{"pending deliveries", stats.PendingDeliveries},
		{"failed deliveries", stats.FailedDeliveries},
		{"queued incoming", stats.QueuedIncoming},
	} {
		fmt.Fprintf(tw, "%s\t%s\n", row.name, humanize.Comma(row.count))
	}
	return tw.Flush()
}
