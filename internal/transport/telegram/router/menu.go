package router

import (
	"sort"
	"strings"
	"unicode"

	kit "ghwatch/internal/transport"
)

// Telegram limits for setMyCommands.
const (
	maxMenuName    = 32
	maxMenuDesc    = 256
	maxMenuEntries = 100
)

// sanitizeTelegramCommand folds a route or alias into a bot command name
// matching [a-z0-9_]{1,32}. Separators collapse to one underscore, other
// symbols are dropped and a leading digit gets a "cmd_" prefix.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			sep = true
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	return clipMenuName(out)
}

func clipMenuName(s string) string {
	if len(s) > maxMenuName {
		s = strings.TrimRight(s[:maxMenuName], "_")
	}
	return s
}

// telegramCommandNameFromRoute gives the menu name of a route:
//
//	["track", "package"] -> "track_package"
//	["list"]             -> "list"
func telegramCommandNameFromRoute(route []string) (string, bool) {
	if len(route) == 0 {
		return "", false
	}
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// menuEntry is one row of the Telegram command menu. Top-level commands
// rank before the "<verb>_package" shortcuts.
type menuEntry struct {
	name string
	desc string
	rank int
}

const (
	rankTopLevel = iota
	rankShortcut
)

type menuSet map[string]menuEntry

// put keeps the better ranked entry for a name, or the shorter
// description on a tie.
func (s menuSet) put(name, desc string, rank int, owner bool) {
	name = sanitizeTelegramCommand(name)
	if name == "" {
		return
	}
	desc = strings.Join(strings.Fields(desc), " ")
	if desc == "" {
		desc = name
	}
	if owner {
		desc = "🔒 " + desc
	}
	if len(desc) > maxMenuDesc {
		desc = desc[:maxMenuDesc]
	}
	if cur, ok := s[name]; ok && (cur.rank < rank || (cur.rank == rank && len(cur.desc) <= len(desc))) {
		return
	}
	s[name] = menuEntry{name: name, desc: desc, rank: rank}
}

func (s menuSet) sorted() []kit.BotCommand {
	entries := make([]menuEntry, 0, len(s))
	for _, e := range s {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank < entries[j].rank
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > maxMenuEntries {
		entries = entries[:maxMenuEntries]
	}
	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		out = append(out, kit.BotCommand{Command: e.name, Description: e.desc})
	}
	return out
}

// buildTelegramMenuCommands lists every top-level command, then one
// shortcut per multi-token route such as "/track_package", so package
// forms are reachable from the menu without typing a space.
func buildTelegramMenuCommands(root *cmdNode, cmds []Command) []kit.BotCommand {
	set := menuSet{}
	if root != nil {
		for _, name := range root.childNames() {
			if n, _ := root.child(name); n != nil {
				set.put(name, summarizeNodeDesc(n), rankTopLevel, nodeIsOwnerOnly(n))
			}
		}
	}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		name, ok := telegramCommandNameFromRoute(route)
		if !ok {
			continue
		}
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = strings.Join(route, " ")
		}
		set.put(name, desc, rankShortcut, c.Access == AccessOwnerOnly)
	}
	return set.sorted()
}
