package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Commits lists commits since the given time, newest first as the API
// returns them. A missing repository yields an empty page.
func (c *Client) Commits(ctx context.Context, repo string, since time.Time) (Page[Commit], error) {
	p, err := repoPath(repo)
	if err != nil {
		return Page[Commit]{}, err
	}
	page, err := list[Commit](ctx, c, "commits", p+"/commits", sinceQuery(since, false), acceptV3)
	if IsNotFound(err) {
		return Page[Commit]{}, nil
	}
	return page, err
}

// IssueComments lists issue comments created or updated since the given
// time, oldest first.
func (c *Client) IssueComments(ctx context.Context, repo string, since time.Time) (Page[IssueComment], error) {
	p, err := repoPath(repo)
	if err != nil {
		return Page[IssueComment]{}, err
	}
	page, err := list[IssueComment](ctx, c, "issue_comments", p+"/issues/comments", sinceQuery(since, true), acceptV3)
	if IsNotFound(err) {
		return Page[IssueComment]{}, nil
	}
	return page, err
}

// PullComments lists pull request review comments since the given time,
// oldest first.
func (c *Client) PullComments(ctx context.Context, repo string, since time.Time) (Page[PullComment], error) {
	p, err := repoPath(repo)
	if err != nil {
		return Page[PullComment]{}, err
	}
	page, err := list[PullComment](ctx, c, "pr_comments", p+"/pulls/comments", sinceQuery(since, true), acceptV3)
	if IsNotFound(err) {
		return Page[PullComment]{}, nil
	}
	return page, err
}

// LatestRelease returns the newest published release, or nil when the
// repository has none.
func (c *Client) LatestRelease(ctx context.Context, repo string) (*Release, error) {
	p, err := repoPath(repo)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "latest_release", p+"/releases/latest", nil, acceptJSON)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Release
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &TransientFetchError{Op: "latest_release", Err: fmt.Errorf("decode: %w", err)}
	}
	if strings.TrimSpace(r.TagName) == "" {
		return nil, nil
	}
	return &r, nil
}
