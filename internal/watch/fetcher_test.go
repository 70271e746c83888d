package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghwatch/internal/github"
)

type fakeAPI struct {
	commits  github.Page[github.Commit]
	issues   github.Page[github.IssueComment]
	pulls    github.Page[github.PullComment]
	err      error
	lastRepo string
	since    time.Time
}

func (a *fakeAPI) Commits(_ context.Context, repo string, since time.Time) (github.Page[github.Commit], error) {
	a.lastRepo, a.since = repo, since
	return a.commits, a.err
}

func (a *fakeAPI) IssueComments(_ context.Context, repo string, since time.Time) (github.Page[github.IssueComment], error) {
	a.lastRepo, a.since = repo, since
	return a.issues, a.err
}

func (a *fakeAPI) PullComments(_ context.Context, repo string, since time.Time) (github.Page[github.PullComment], error) {
	a.lastRepo, a.since = repo, since
	return a.pulls, a.err
}

type fakeReleases struct {
	rel  *github.Release
	err  error
	repo string
}

func (r *fakeReleases) LatestRelease(_ context.Context, repo string) (*github.Release, error) {
	r.repo = repo
	return r.rel, r.err
}

func TestFetchCommitsBuildsKeys(t *testing.T) {
	api := &fakeAPI{}
	api.commits.Items = []github.Commit{{SHA: "abc"}, {SHA: "def"}}
	api.commits.Items[0].Commit.Author.Date = t0
	api.commits.Malformed = []error{errors.New("bad element")}

	f := NewGitHubFetcher(api, nil)
	items, err := f.Fetch(context.Background(), repoRes, EventCommits, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "octo/hello", api.lastRepo)
	assert.Equal(t, t0.Add(-time.Hour), api.since)

	assert.Equal(t, "octo/hello_commit_abc", items[0].Key)
	assert.Equal(t, t0, items[0].At)
	assert.Equal(t, "abc", items[0].Commit.SHA)
	assert.Equal(t, "octo/hello_commit_def", items[1].Key)
	assert.Error(t, items[2].Err)
	assert.Empty(t, items[2].Key)
}

func TestFetchComments(t *testing.T) {
	api := &fakeAPI{}
	api.issues.Items = []github.IssueComment{{ID: 11, CreatedAt: t0}}
	api.pulls.Items = []github.PullComment{{ID: 22, CreatedAt: t0}}
	f := NewGitHubFetcher(api, nil)

	items, err := f.Fetch(context.Background(), repoRes, EventIssueComments, t0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "issue_comment_11", items[0].Key)
	assert.NotNil(t, items[0].IssueComment)

	items, err = f.Fetch(context.Background(), repoRes, EventPRComments, t0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "pr_comment_22", items[0].Key)
	assert.NotNil(t, items[0].PullComment)
}

func TestFetchPassesErrorsThrough(t *testing.T) {
	want := &github.TransientFetchError{Op: "commits", Err: errors.New("reset")}
	f := NewGitHubFetcher(&fakeAPI{err: want}, nil)
	_, err := f.Fetch(context.Background(), repoRes, EventCommits, t0)
	assert.ErrorIs(t, err, want)
}

func TestFetchReleaseUsesUpstream(t *testing.T) {
	src := &fakeReleases{rel: &github.Release{TagName: "v1", PublishedAt: t0}}
	f := NewGitHubFetcher(&fakeAPI{}, src)
	pkg := Resource{Kind: KindPackage, Name: "express", Upstream: "expressjs/express"}

	items, err := f.Fetch(context.Background(), pkg, EventRelease, t0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "expressjs/express", src.repo)
	assert.Equal(t, "v1", items[0].Release.TagName)
	assert.Equal(t, t0, items[0].At)

	src.rel = nil
	items, err = f.Fetch(context.Background(), pkg, EventRelease, t0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetchUnresolvedPackage(t *testing.T) {
	f := NewGitHubFetcher(&fakeAPI{}, &fakeReleases{})
	_, err := f.Fetch(context.Background(), Resource{Kind: KindPackage, Name: "x"}, EventRelease, t0)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestFetchUnknownKind(t *testing.T) {
	f := NewGitHubFetcher(&fakeAPI{}, nil)
	_, err := f.Fetch(context.Background(), repoRes, EventKind("stars"), t0)
	assert.Error(t, err)
}
