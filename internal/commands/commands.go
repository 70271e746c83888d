// Package commands implements the chat commands that manage tracked
// repositories and packages.
package commands

import (
	"context"
	"time"

	"ghwatch/internal/github"
	"ghwatch/internal/notifier"
	"ghwatch/internal/task/engine"
	kit "ghwatch/internal/transport"
	"ghwatch/internal/transport/telegram/router"
	"ghwatch/internal/watch"
)

// Tracker is the part of watch.Registry the commands drive.
type Tracker interface {
	Track(ctx context.Context, req watch.TrackRequest) (watch.Resource, error)
	Untrack(ctx context.Context, kind watch.ResourceKind, name string, actor watch.Actor, from kit.ChatTarget) error
	Check(ctx context.Context, kind watch.ResourceKind, name string, actor watch.Actor, from kit.ChatTarget) (watch.Report, error)
	List(keep func(watch.Resource) bool) []watch.Status
	Counts() map[watch.ResourceKind]int
}

type Deps struct {
	Tracker Tracker

	// Optional, used by /status.
	Engine   interface{ Snapshot() engine.Snapshot }
	Notifier interface{ Stats() notifier.Stats }
	Rate     func() github.RateInfo

	// RestrictMutations makes track, untrack and check owner-only.
	RestrictMutations bool

	Started time.Time
	Now     func() time.Time
}

type handlers struct {
	d Deps
}

// Build returns the command set for router.CommandManager.SetRegistry.
func Build(d Deps) []router.Command {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Started.IsZero() {
		d.Started = d.Now()
	}
	h := &handlers{d: d}

	mut := router.AccessEveryone
	if d.RestrictMutations {
		mut = router.AccessOwnerOnly
	}
	return []router.Command{
		{
			Route:       "track",
			Description: "track a repository",
			Usage:       "/track <owner/repo>",
			Access:      mut,
			Handle:      h.track(watch.KindRepository),
		},
		{
			Route:       "track package",
			Aliases:     []string{"track_pkg"},
			Description: "track releases of a package",
			Usage:       "/track package <name>",
			Access:      mut,
			Timeout:     2 * time.Minute,
			Handle:      h.track(watch.KindPackage),
		},
		{
			Route:       "untrack",
			Aliases:     []string{"rm"},
			Description: "stop tracking a repository",
			Usage:       "/untrack <owner/repo>",
			Access:      mut,
			Handle:      h.untrack(watch.KindRepository),
		},
		{
			Route:       "untrack package",
			Description: "stop tracking a package",
			Usage:       "/untrack package <name>",
			Access:      mut,
			Handle:      h.untrack(watch.KindPackage),
		},
		{
			Route:       "check",
			Description: "check a repository now",
			Usage:       "/check <owner/repo>",
			Access:      mut,
			Timeout:     3 * time.Minute,
			Handle:      h.check(watch.KindRepository),
		},
		{
			Route:       "check package",
			Description: "check a package for a new release now",
			Usage:       "/check package <name>",
			Access:      mut,
			Timeout:     3 * time.Minute,
			Handle:      h.check(watch.KindPackage),
		},
		{
			Route:       "list",
			Aliases:     []string{"ls"},
			Description: "list what this chat tracks",
			Usage:       "/list",
			Handle:      h.list,
		},
		{
			Route:       "status",
			Description: "show watcher status",
			Usage:       "/status",
			Handle:      h.status,
		},
	}
}

func actorOf(req *router.Request) watch.Actor {
	return watch.Actor{ID: req.FromID, Username: req.From}
}
