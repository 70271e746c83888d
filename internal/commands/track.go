package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"ghwatch/internal/transport/telegram/router"
	"ghwatch/internal/watch"
)

// target picks the resource kind and name from the arguments. A leading
// "repo" or "pkg" word overrides the kind of the route.
func target(kind watch.ResourceKind, args []string) (watch.ResourceKind, string, bool) {
	if len(args) == 0 {
		return kind, "", false
	}
	if len(args) > 1 {
		if k, err := watch.ParseKind(args[0]); err == nil && args[0] != "" {
			kind = k
			args = args[1:]
		}
	}
	name := strings.TrimSpace(args[0])
	return kind, name, name != ""
}

func usage(kind watch.ResourceKind, verb string) string {
	if kind == watch.KindPackage {
		return fmt.Sprintf("Usage: <code>/%s package &lt;name&gt;</code>\nExample: <code>/%s package express</code>", verb, verb)
	}
	return fmt.Sprintf("Usage: <code>/%s owner/repository</code>\nExample: <code>/%s microsoft/vscode</code>", verb, verb)
}

func kindLabel(kind watch.ResourceKind) string {
	if kind == watch.KindPackage {
		return "package"
	}
	return "repository"
}

func (h *handlers) track(routeKind watch.ResourceKind) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		kind, name, ok := target(routeKind, req.Args)
		if !ok {
			return req.Reply(ctx, usage(routeKind, "track"))
		}
		res, err := h.d.Tracker.Track(ctx, watch.TrackRequest{
			Kind:   kind,
			Name:   name,
			Target: req.Chat,
			Actor:  actorOf(req),
		})
		if err != nil {
			if msg, ok := explain(kind, name, err); ok {
				return req.Reply(ctx, msg)
			}
			return err
		}

		var b strings.Builder
		if res.Kind == watch.KindPackage {
			fmt.Fprintf(&b, "✅ Now tracking package <code>%s</code>\n", html.EscapeString(res.Name))
			fmt.Fprintf(&b, "🔗 Upstream: <code>%s</code>\n", html.EscapeString(res.Upstream))
			b.WriteString("📣 New releases will be posted in this chat.")
		} else {
			fmt.Fprintf(&b, "✅ Now tracking repository <code>%s</code>\n", html.EscapeString(res.Name))
			b.WriteString("📣 New commits and comments will be posted in this chat.")
		}
		return req.Reply(ctx, b.String())
	}
}

func (h *handlers) untrack(routeKind watch.ResourceKind) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		kind, name, ok := target(routeKind, req.Args)
		if !ok {
			return req.Reply(ctx, usage(routeKind, "untrack"))
		}
		if err := h.d.Tracker.Untrack(ctx, kind, name, actorOf(req), req.Chat); err != nil {
			if msg, ok := explain(kind, name, err); ok {
				return req.Reply(ctx, msg)
			}
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("🗑️ Stopped tracking %s <code>%s</code>", kindLabel(kind), html.EscapeString(watch.Key(name))))
	}
}

func (h *handlers) check(routeKind watch.ResourceKind) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		kind, name, ok := target(routeKind, req.Args)
		if !ok {
			return req.Reply(ctx, usage(routeKind, "check"))
		}
		rep, err := h.d.Tracker.Check(ctx, kind, name, actorOf(req), req.Chat)
		if len(rep.Kinds) > 0 {
			// Stream errors are part of the report.
			return req.Reply(ctx, renderReport(rep, h.d.Now()))
		}
		if err != nil {
			if msg, ok := explain(kind, name, err); ok {
				return req.Reply(ctx, msg)
			}
			return err
		}
		return req.Reply(ctx, renderReport(rep, h.d.Now()))
	}
}

// explain turns expected registry errors into a user reply.
func explain(kind watch.ResourceKind, name string, err error) (string, bool) {
	n := html.EscapeString(watch.Key(name))
	switch {
	case errors.Is(err, watch.ErrInvalidName):
		if kind == watch.KindRepository {
			return "❌ Invalid repository format. Use <code>owner/repository</code>, e.g. <code>microsoft/vscode</code>", true
		}
		return fmt.Sprintf("❌ Invalid package name <code>%s</code>", html.EscapeString(name)), true
	case errors.Is(err, watch.ErrAlreadyTracked):
		return fmt.Sprintf("ℹ️ %s <code>%s</code> is already being tracked", capitalize(kindLabel(kind)), n), true
	case errors.Is(err, watch.ErrNotTracked):
		hint := "/track " + n
		if kind == watch.KindPackage {
			hint = "/track package " + n
		}
		return fmt.Sprintf("❌ %s <code>%s</code> is not being tracked\n💡 Use <code>%s</code> to start tracking it", capitalize(kindLabel(kind)), n, hint), true
	case errors.Is(err, watch.ErrUnresolved):
		return fmt.Sprintf("❌ Could not find a GitHub repository for package <code>%s</code>", n), true
	case errors.Is(err, watch.ErrNotLoaded):
		return fmt.Sprintf("⏳ <code>%s</code> is still loading its state, try again shortly", n), true
	case errors.Is(err, watch.ErrClosed), errors.Is(err, watch.ErrDestroyed):
		return "⏳ Shutting down, try again later", true
	}
	return "", false
}

func renderReport(rep watch.Report, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 <b>Checked</b> <code>%s</code>", html.EscapeString(rep.Resource.Name))
	if rep.Took > 0 {
		fmt.Fprintf(&b, " in %s", rep.Took.Round(time.Millisecond))
	}
	b.WriteString("\n")
	for _, k := range rep.Kinds {
		b.WriteString(renderKind(k, now))
		b.WriteString("\n")
	}
	if n := rep.Notified(); n > 0 {
		fmt.Fprintf(&b, "\n📨 %d new notification(s) queued", n)
	} else if rep.Err() == nil {
		b.WriteString("\n✨ Nothing new")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderKind(k watch.KindReport, now time.Time) string {
	name := strings.ReplaceAll(string(k.Kind), "_", " ")
	switch {
	case !k.PausedUntil.IsZero() && k.PausedUntil.After(now):
		return fmt.Sprintf("⏸️ %s: rate limited, resumes in %s", name, k.PausedUntil.Sub(now).Round(time.Second))
	case k.Err != nil:
		return fmt.Sprintf("⚠️ %s: %s", name, html.EscapeString(k.Err.Error()))
	case k.Recorded != "":
		return fmt.Sprintf("📌 %s: recorded <code>%s</code> as the current version", name, html.EscapeString(k.Recorded))
	}
	line := fmt.Sprintf("• %s: %d fetched, %d new", name, k.Fetched, k.Notified)
	if k.Skipped > 0 {
		line += fmt.Sprintf(", %d seen", k.Skipped)
	}
	if k.Malformed > 0 {
		line += fmt.Sprintf(", %d malformed", k.Malformed)
	}
	return line
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
