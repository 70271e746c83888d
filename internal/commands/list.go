package commands

import (
	"context"
	"fmt"
	"html"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"ghwatch/internal/transport/telegram/router"
	"ghwatch/internal/watch"
)

func (h *handlers) list(ctx context.Context, req *router.Request) error {
	items := h.d.Tracker.List(watch.InChat(req.Chat.ChatID))
	if len(items) == 0 {
		return req.Reply(ctx, "📭 Nothing is tracked in this chat yet.\n\n🚀 Start with <code>/track owner/repository</code> or <code>/track package &lt;name&gt;</code>")
	}

	var repos, pkgs []watch.Status
	for _, st := range items {
		if st.Resource.Kind == watch.KindPackage {
			pkgs = append(pkgs, st)
		} else {
			repos = append(repos, st)
		}
	}

	now := h.d.Now()
	var b strings.Builder
	b.WriteString("📋 <b>Tracked in this chat</b>\n")
	if len(repos) > 0 {
		fmt.Fprintf(&b, "\n📦 <b>Repositories (%d)</b>\n", len(repos))
		for _, st := range repos {
			fmt.Fprintf(&b, "• <code>%s</code>%s\n", html.EscapeString(st.Resource.Name), statusSuffix(st, now))
		}
	}
	if len(pkgs) > 0 {
		fmt.Fprintf(&b, "\n🏷️ <b>Packages (%d)</b>\n", len(pkgs))
		for _, st := range pkgs {
			line := fmt.Sprintf("• <code>%s</code>", html.EscapeString(st.Resource.Name))
			if st.Resource.Upstream != "" {
				line += " → " + html.EscapeString(st.Resource.Upstream)
			}
			if st.LastVersion != "" {
				line += fmt.Sprintf(" (<code>%s</code>)", html.EscapeString(st.LastVersion))
			}
			b.WriteString(line + statusSuffix(st, now) + "\n")
		}
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func statusSuffix(st watch.Status, now time.Time) string {
	for _, until := range st.Paused {
		if until.After(now) {
			return " ⏸️"
		}
	}
	if st.LastError != "" {
		return " ⚠️"
	}
	return ""
}

func (h *handlers) status(ctx context.Context, req *router.Request) error {
	now := h.d.Now()
	counts := h.d.Tracker.Counts()

	paused, failing, loading := 0, 0, 0
	for _, st := range h.d.Tracker.List(nil) {
		if !st.Loaded {
			loading++
		}
		if st.LastError != "" {
			failing++
		}
		for _, until := range st.Paused {
			if until.After(now) {
				paused++
				break
			}
		}
	}

	var b strings.Builder
	b.WriteString("📊 <b>ghwatch status</b>\n\n")
	fmt.Fprintf(&b, "⏱️ Uptime: %s\n", now.Sub(h.d.Started).Round(time.Second))
	fmt.Fprintf(&b, "🧵 Goroutines: %d\n", runtime.NumGoroutine())

	b.WriteString("\n<b>Tracking</b>\n")
	fmt.Fprintf(&b, "• repositories: %d\n", counts[watch.KindRepository])
	fmt.Fprintf(&b, "• packages: %d\n", counts[watch.KindPackage])
	if paused > 0 {
		fmt.Fprintf(&b, "• rate limited: %d\n", paused)
	}
	if failing > 0 {
		fmt.Fprintf(&b, "• last check failed: %d\n", failing)
	}
	if loading > 0 {
		fmt.Fprintf(&b, "• loading: %d\n", loading)
	}

	if h.d.Engine != nil {
		s := h.d.Engine.Snapshot()
		b.WriteString("\n<b>Task engine</b>\n")
		if !s.Enabled {
			b.WriteString("• disabled\n")
		} else {
			fmt.Fprintf(&b, "• workers: %d, in flight: %d\n", s.Workers, s.InFlight)
			fmt.Fprintf(&b, "• queue: %d/%d\n", s.QueueLen, s.QueueCap)
			if s.Dropped > 0 {
				fmt.Fprintf(&b, "• dropped: %s (full %s, stale %s)\n",
					humanize.Comma(int64(s.Dropped)), humanize.Comma(int64(s.DroppedQueueFull)), humanize.Comma(int64(s.DroppedStale)))
			}
			if s.CircuitOpen > 0 {
				fmt.Fprintf(&b, "• open circuits: %d/%d\n", s.CircuitOpen, s.CircuitTotal)
			}
		}
	}

	if h.d.Notifier != nil {
		s := h.d.Notifier.Stats()
		b.WriteString("\n<b>Notifier</b>\n")
		switch {
		case !s.Enabled:
			b.WriteString("• disabled\n")
		case !s.Running:
			b.WriteString("• stopped\n")
		default:
			fmt.Fprintf(&b, "• queue: %d/%d\n", s.Queued, s.Cap)
		}
	}

	if h.d.Rate != nil {
		r := h.d.Rate()
		b.WriteString("\n<b>GitHub API</b>\n")
		if r.Observed.IsZero() {
			b.WriteString("• no requests yet\n")
		} else {
			fmt.Fprintf(&b, "• remaining: %s/%s\n", humanize.Comma(int64(r.Remaining)), humanize.Comma(int64(r.Limit)))
			if !r.Reset.IsZero() {
				fmt.Fprintf(&b, "• resets %s\n", humanize.RelTime(r.Reset, now, "ago", "from now"))
			}
		}
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}
