package watch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ghwatch/internal/github"
)

// GitHubAPI is the part of *github.Client the fetcher uses.
type GitHubAPI interface {
	Commits(ctx context.Context, repo string, since time.Time) (github.Page[github.Commit], error)
	IssueComments(ctx context.Context, repo string, since time.Time) (github.Page[github.IssueComment], error)
	PullComments(ctx context.Context, repo string, since time.Time) (github.Page[github.PullComment], error)
}

// GitHubFetcher adapts the GitHub client to Fetcher. Releases come from a
// separate source so the atom feed can replace the API for them.
type GitHubFetcher struct {
	api      GitHubAPI
	releases github.ReleaseSource
}

func NewGitHubFetcher(api GitHubAPI, releases github.ReleaseSource) *GitHubFetcher {
	return &GitHubFetcher{api: api, releases: releases}
}

func (f *GitHubFetcher) Fetch(ctx context.Context, res Resource, kind EventKind, since time.Time) ([]Item, error) {
	repo := res.Repo()
	if repo == "" {
		return nil, fmt.Errorf("%s: %w", res.ID(), ErrUnresolved)
	}
	switch kind {
	case EventCommits:
		page, err := f.api.Commits(ctx, repo, since)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(page.Items)+len(page.Malformed))
		for i := range page.Items {
			c := &page.Items[i]
			items = append(items, Item{Kind: kind, Key: CommitKey(res.Name, c.SHA), At: c.Commit.Author.Date, Commit: c})
		}
		return appendMalformed(items, kind, page.Malformed), nil

	case EventIssueComments:
		page, err := f.api.IssueComments(ctx, repo, since)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(page.Items)+len(page.Malformed))
		for i := range page.Items {
			c := &page.Items[i]
			items = append(items, Item{Kind: kind, Key: IssueCommentKey(c.ID), At: c.CreatedAt, IssueComment: c})
		}
		return appendMalformed(items, kind, page.Malformed), nil

	case EventPRComments:
		page, err := f.api.PullComments(ctx, repo, since)
		if err != nil {
			return nil, err
		}
		items := make([]Item, 0, len(page.Items)+len(page.Malformed))
		for i := range page.Items {
			c := &page.Items[i]
			items = append(items, Item{Kind: kind, Key: PullCommentKey(c.ID), At: c.CreatedAt, PullComment: c})
		}
		return appendMalformed(items, kind, page.Malformed), nil

	case EventRelease:
		if f.releases == nil {
			return nil, fmt.Errorf("no release source configured")
		}
		rel, err := f.releases.LatestRelease(ctx, repo)
		if err != nil || rel == nil {
			return nil, err
		}
		return []Item{{Kind: kind, At: rel.PublishedAt, Release: rel}}, nil
	}
	return nil, fmt.Errorf("unsupported event kind %q", kind)
}

func appendMalformed(items []Item, kind EventKind, errs []error) []Item {
	for _, err := range errs {
		items = append(items, Item{Kind: kind, Err: err})
	}
	return items
}

func CommitKey(repo, sha string) string { return repo + "_commit_" + sha }

func IssueCommentKey(id int64) string { return "issue_comment_" + strconv.FormatInt(id, 10) }

func PullCommentKey(id int64) string { return "pr_comment_" + strconv.FormatInt(id, 10) }
