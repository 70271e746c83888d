package watch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ghwatch/internal/github"
	kit "ghwatch/internal/transport"
)

type ResourceKind string

const (
	KindRepository ResourceKind = "repo"
	KindPackage    ResourceKind = "pkg"
)

// ParseKind accepts the short and long spellings used by commands.
func ParseKind(s string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "repo", "repository", "":
		return KindRepository, nil
	case "pkg", "package":
		return KindPackage, nil
	default:
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
}

// EventKind names one activity stream of a resource. Each stream has its
// own cursor and lock.
type EventKind string

const (
	EventCommits       EventKind = "commits"
	EventIssueComments EventKind = "issue_comments"
	EventPRComments    EventKind = "pr_comments"
	EventRelease       EventKind = "release"
)

var repoNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+/[a-zA-Z0-9._-]+$`)

// ValidRepoName reports whether s looks like owner/repo.
func ValidRepoName(s string) bool { return repoNameRe.MatchString(s) }

// Resource is one tracked repository or package.
type Resource struct {
	Kind ResourceKind
	// Name is the lowercased identity: owner/repo or the package name.
	Name string
	// Upstream is the repository a package publishes releases from.
	Upstream string
	Target   kit.ChatTarget
	AddedBy  string
	AddedAt  time.Time
}

// ID is unique across kinds.
func (r Resource) ID() string { return string(r.Kind) + ":" + r.Name }

// Repo is the GitHub repository to query.
func (r Resource) Repo() string {
	if r.Kind == KindPackage {
		return r.Upstream
	}
	return r.Name
}

// Key normalizes a resource name for lookups.
func Key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Item is one raw event. Exactly one payload pointer is set unless Err
// reports an element that could not be decoded.
type Item struct {
	Kind EventKind
	// Key is the processed-set key, empty for releases.
	Key string
	At  time.Time

	Commit       *github.Commit
	IssueComment *github.IssueComment
	PullComment  *github.PullComment
	Release      *github.Release

	Err error
}

// Fetcher returns the items of one stream observed since the cursor.
// Commits come newest first; comments oldest first; releases hold at most
// one item, the latest release.
type Fetcher interface {
	Fetch(ctx context.Context, res Resource, kind EventKind, since time.Time) ([]Item, error)
}

// Resolver maps a package name to its upstream repository.
type Resolver interface {
	Resolve(ctx context.Context, name string) (fullName string, found bool, err error)
}

// Notifier accepts a rendered message for asynchronous delivery.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// KindReport is the outcome of checking one stream.
type KindReport struct {
	Kind      EventKind
	Fetched   int
	Notified  int
	Skipped   int // already processed
	Malformed int
	// Recorded is set when a release was seen for the first time.
	Recorded string
	// PausedUntil is set while the stream waits out a rate limit.
	PausedUntil time.Time
	Err         error
}

// Report is the outcome of a manual check.
type Report struct {
	Resource Resource
	Kinds    []KindReport
	Took     time.Duration
}

// Notified sums notified items over all streams.
func (r Report) Notified() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Notified
	}
	return n
}

// Err returns the first stream error.
func (r Report) Err() error {
	for _, k := range r.Kinds {
		if k.Err != nil {
			return k.Err
		}
	}
	return nil
}
