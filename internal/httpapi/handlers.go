package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ghwatch/internal/watch"
)

type resourceView struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Name     string    `json:"name"`
	Upstream string    `json:"upstream,omitempty"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	AddedBy  string    `json:"added_by,omitempty"`
	AddedAt  time.Time `json:"added_at"`

	State       string               `json:"state"`
	Loaded      bool                 `json:"loaded"`
	Processed   int                  `json:"processed"`
	LastVersion string               `json:"last_version,omitempty"`
	LastCheck   *time.Time           `json:"last_check,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
	Cursors     map[string]time.Time `json:"cursors"`
	Paused      map[string]time.Time `json:"paused,omitempty"`
	Next        map[string]time.Time `json:"next,omitempty"`
}

func toView(st watch.Status) resourceView {
	res := st.Resource
	v := resourceView{
		ID:          res.ID(),
		Kind:        string(res.Kind),
		Name:        res.Name,
		Upstream:    res.Upstream,
		ChatID:      res.Target.ChatID,
		ThreadID:    res.Target.ThreadID,
		AddedBy:     res.AddedBy,
		AddedAt:     res.AddedAt,
		State:       st.State.String(),
		Loaded:      st.Loaded,
		Processed:   st.Processed,
		LastVersion: st.LastVersion,
		LastError:   st.LastError,
		Cursors:     map[string]time.Time{},
	}
	if !st.LastCheck.IsZero() {
		t := st.LastCheck
		v.LastCheck = &t
	}
	for k, t := range st.Cursors {
		v.Cursors[string(k)] = t
	}
	if len(st.Paused) > 0 {
		v.Paused = map[string]time.Time{}
		for k, t := range st.Paused {
			v.Paused[string(k)] = t
		}
	}
	if len(st.Next) > 0 {
		v.Next = st.Next
	}
	return v
}

func (s *Service) handleResources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("registry unavailable"))
		return
	}
	q := r.URL.Query()
	var kind watch.ResourceKind
	if raw := q.Get("kind"); raw != "" {
		k, err := watch.ParseKind(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		kind = k
	}
	var chatID int64
	if raw := q.Get("chat_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("chat_id must be an integer"))
			return
		}
		chatID = id
	}

	items := s.deps.Registry.List(func(res watch.Resource) bool {
		if kind != "" && res.Kind != kind {
			return false
		}
		return chatID == 0 || res.Target.ChatID == chatID
	})
	out := make([]resourceView, 0, len(items))
	for _, st := range items {
		out = append(out, toView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "resources": out})
}

// handleResource serves /api/resources/{kind}/{name}; repository names
// contain a slash, so the name is the wildcard tail.
func (s *Service) handleResource(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("registry unavailable"))
		return
	}
	kind, err := watch.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	name := watch.Key(strings.Trim(chi.URLParam(r, "*"), "/"))
	items := s.deps.Registry.List(func(res watch.Resource) bool {
		return res.Kind == kind && res.Name == name
	})
	if len(items) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody("not tracked"))
		return
	}
	writeJSON(w, http.StatusOK, toView(items[0]))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Ready != nil && !s.deps.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := s.deps.Now()
	body := map[string]any{"time": now.UTC()}
	if !s.deps.Started.IsZero() {
		body["uptime_seconds"] = int64(now.Sub(s.deps.Started).Seconds())
	}
	if s.deps.Registry != nil {
		counts := map[string]int{}
		for k, n := range s.deps.Registry.Counts() {
			counts[string(k)] = n
		}
		body["tracked"] = counts
	}
	if s.deps.Engine != nil {
		snap := s.deps.Engine.Snapshot()
		body["engine"] = map[string]any{
			"enabled":            snap.Enabled,
			"workers":            snap.Workers,
			"queue_len":          snap.QueueLen,
			"queue_cap":          snap.QueueCap,
			"in_flight":          snap.InFlight,
			"dropped":            snap.Dropped,
			"dropped_queue_full": snap.DroppedQueueFull,
			"dropped_stale":      snap.DroppedStale,
			"circuit_open":       snap.CircuitOpen,
		}
	}
	if s.deps.Notifier != nil {
		body["notifier"] = s.deps.Notifier.Stats()
	}
	if s.deps.Rate != nil {
		rate := s.deps.Rate()
		gh := map[string]any{"limit": rate.Limit, "remaining": rate.Remaining}
		if !rate.Reset.IsZero() {
			gh["reset"] = rate.Reset.UTC()
		}
		body["github"] = gh
	}
	writeJSON(w, http.StatusOK, body)
}

func errorBody(msg string) map[string]string { return map[string]string{"error": msg} }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
