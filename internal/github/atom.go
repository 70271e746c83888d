package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// ReleaseSource yields the newest release of a repository, or nil when
// there is none.
type ReleaseSource interface {
	LatestRelease(ctx context.Context, repo string) (*Release, error)
}

var (
	_ ReleaseSource = (*Client)(nil)
	_ ReleaseSource = (*AtomFeed)(nil)
)

// AtomFeed reads releases from the public releases.atom feed. It does not
// count against the API rate limit but carries no author or asset data.
type AtomFeed struct {
	baseURL string
	parser  *gofeed.Parser
}

func NewAtomFeed(baseURL, userAgent string, timeout time.Duration) *AtomFeed {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://github.com"
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: timeout}
	p.UserAgent = userAgent
	return &AtomFeed{baseURL: baseURL, parser: p}
}

func (a *AtomFeed) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	if _, err := repoPath(repo); err != nil {
		return nil, err
	}
	feedURL := a.baseURL + "/" + strings.TrimSpace(repo) + "/releases.atom"
	feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			switch {
			case he.StatusCode == http.StatusNotFound:
				return nil, nil
			case he.StatusCode == http.StatusTooManyRequests:
				return nil, &RateLimitedError{Op: "releases_atom", Status: he.StatusCode}
			case he.StatusCode < 500:
				return nil, &StatusError{Op: "releases_atom", Status: he.StatusCode, Body: he.Status}
			}
		}
		return nil, &TransientFetchError{Op: "releases_atom", Err: err}
	}
	if len(feed.Items) == 0 {
		return nil, nil
	}
	return releaseFromEntry(feed.Items[0])
}

func releaseFromEntry(it *gofeed.Item) (*Release, error) {
	tag := tagFromLink(it.Link)
	if tag == "" {
		return nil, &TransientFetchError{Op: "releases_atom", Err: fmt.Errorf("entry %q has no tag link", it.Title)}
	}
	r := &Release{
		TagName: tag,
		Name:    strings.TrimSpace(it.Title),
		HTMLURL: it.Link,
		Body:    htmlText(it.Content),
	}
	switch {
	case it.PublishedParsed != nil:
		r.PublishedAt = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		r.PublishedAt = *it.UpdatedParsed
	}
	if len(it.Authors) > 0 && it.Authors[0] != nil && it.Authors[0].Name != "" {
		login := it.Authors[0].Name
		r.Author = &User{Login: login, HTMLURL: "https://github.com/" + login}
	}
	return r, nil
}

// tagFromLink extracts the tag from .../releases/tag/<tag>.
func tagFromLink(link string) string {
	_, after, ok := strings.Cut(link, "/releases/tag/")
	if !ok {
		return ""
	}
	tag, err := url.PathUnescape(strings.Trim(after, "/"))
	if err != nil {
		return after
	}
	return tag
}

func htmlText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
