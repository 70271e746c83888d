package storage

import (
	"fmt"
	"strings"

	"ghwatch/pkg/logx"
)

// Open initializes the configured store. An empty driver means "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "none":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

// SafeName maps a resource identity to a file-system safe token.
// Letters, digits, '.' and '-' pass through, '_' is doubled and any
// other byte becomes '_' plus two hex digits, so "owner/repo" becomes
// "owner_2frepo". Distinct names always map to distinct tokens.
func SafeName(name string) string {
	const hex = "0123456789abcdef"
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		case c == '_':
			b.WriteString("__")
		default:
			b.WriteByte('_')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

func trimKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
