package router

import (
	"strings"

	"github.com/google/uuid"
)

// newReqID returns a short request id for log correlation.
func newReqID() string {
	id := uuid.NewString()
	return id[:8]
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
//
//	/cmd a "b c" --k=v
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits raw args into positionals and flags.
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v, -abc (bool flags a,b,c)
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := strings.TrimPrefix(a, "--")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			key := strings.TrimPrefix(a, "-")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if len(key) == 1 {
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
					flags[key] = args[i+1]
					i++
					continue
				}
				bools[key] = true
				continue
			}
			for j := 0; j < len(key); j++ {
				bools[string(key[j])] = true
			}
			continue
		}
		pos = append(pos, a)
	}
	return pos, flags, bools
}
