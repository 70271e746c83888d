package router

import (
	"html"
	"sort"
	"strings"
)

// packageWord is the subcommand that turns a repository command into its
// package form ("/track package express").
const packageWord = "package"

// helpText renders /help output in Telegram HTML parse mode. An empty
// path gives the overview, otherwise the help of one command.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return overviewHTML(root)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p), "/"))
		n, ok := cur.child(p)
		if !ok {
			// "/help track_package" or "/help ls"
			leaf, ok := alias[p]
			if !ok || leaf == nil || leaf.cmd == nil {
				return unknownHTML()
			}
			return commandHTML(leaf, splitRoute(leaf.cmd.Route))
		}
		cur = n
		full = append(full, p)
	}
	return commandHTML(cur, full)
}

func unknownHTML() string {
	return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the command list."
}

// helpRow is one line of the overview.
type helpRow struct {
	usage string
	desc  string
	lock  bool
}

func (r helpRow) html() string {
	s := "• "
	if r.lock {
		s += "🔒 "
	}
	s += "<code>" + html.EscapeString(r.usage) + "</code>"
	if r.desc != "" {
		s += " - " + html.EscapeString(r.desc)
	}
	return s
}

// overviewHTML sorts top-level commands into the repository form, the
// package form and everything else. A command counts as a repository
// command when it also has a package subcommand.
func overviewHTML(root *cmdNode) string {
	var repos, pkgs, general []helpRow
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		if n == nil {
			continue
		}
		pkg, hasPkg := n.child(packageWord)
		switch {
		case hasPkg && pkg.cmd != nil:
			if n.cmd != nil {
				repos = append(repos, rowFor(n, []string{name}))
			}
			pkgs = append(pkgs, rowFor(pkg, []string{name, packageWord}))
		default:
			general = append(general, rowFor(n, []string{name}))
		}
	}

	lines := []string{"📚 <b>Commands</b>"}
	section := func(title string, rows []helpRow) {
		if len(rows) == 0 {
			return
		}
		lines = append(lines, "", "<b>"+title+"</b>")
		for _, r := range rows {
			lines = append(lines, r.html())
		}
	}
	section("Repositories", repos)
	section("Packages", pkgs)
	section("General", general)
	lines = append(lines, "",
		"Repositories are written <code>owner/repo</code>, packages by their registry name.",
		"Send <code>/help &lt;command&gt;</code> for details, e.g. <code>/help track</code>.",
	)
	return strings.Join(lines, "\n")
}

func rowFor(n *cmdNode, route []string) helpRow {
	return helpRow{usage: usageOf(n, route), desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)}
}

// usageOf prefers the declared usage and falls back to the route.
func usageOf(n *cmdNode, route []string) string {
	if n != nil && n.cmd != nil {
		if u := strings.TrimSpace(n.cmd.Usage); u != "" {
			return u
		}
	}
	return "/" + strings.Join(route, " ")
}

func commandHTML(cur *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> <code>" + html.EscapeString("/"+strings.Join(full, " ")) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>Owners only</i>")
		}
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(usageOf(cur, full))+"</code>")
	} else if nodeIsOwnerOnly(cur) {
		lines = append(lines, "🔒 <i>Owners only</i>")
	}

	// The package form of a repository command is shown as a usage of its
	// own rather than as a plain subcommand.
	pkg, hasPkg := cur.child(packageWord)
	if hasPkg && pkg.cmd != nil {
		route := append(append([]string(nil), full...), packageWord)
		u := strings.TrimSpace(pkg.cmd.Usage)
		if u == "" {
			u = "/" + strings.Join(route, " ") + " <name>"
		}
		lines = append(lines, "", "<b>For a package</b>", "<code>"+html.EscapeString(u)+"</code>")
		if d := strings.TrimSpace(pkg.cmd.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
	}

	if cur.cmd != nil {
		if short := buildShortcuts(*cur.cmd); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	}

	var subs []string
	for _, name := range cur.childNames() {
		if hasPkg && name == packageWord {
			continue
		}
		n, _ := cur.child(name)
		if n == nil {
			continue
		}
		route := append(append([]string(nil), full...), name)
		subs = append(subs, rowFor(n, route).html())
	}
	if len(subs) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		lines = append(lines, subs...)
	}
	return strings.Join(lines, "\n")
}

// summarizeNodeDesc is the one-line description of a command or group.
func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	switch {
	case len(kids) == 0:
		return ""
	case len(kids) == 1 && kids[0] == packageWord:
		return "repository or package"
	case len(kids) > 3:
		return "subcommands: " + strings.Join(kids[:3], ", ") + ", …"
	default:
		return "subcommands: " + strings.Join(kids, ", ")
	}
}

// nodeIsOwnerOnly reports whether nothing under n is open to everyone.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return len(n.children) > 0
}

// buildShortcuts lists every single-token way to reach c: its Telegram
// menu name and its aliases.
func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if menu, ok := telegramCommandNameFromRoute(splitRoute(c.Route)); ok {
		add(menu)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
