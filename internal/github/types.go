package github

import (
	"strings"
	"time"
)

type User struct {
	Login   string `json:"login"`
	HTMLURL string `json:"html_url"`
}

type CommitAuthor struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

type CommitDetail struct {
	Message string       `json:"message"`
	Author  CommitAuthor `json:"author"`
}

type Commit struct {
	SHA     string       `json:"sha"`
	HTMLURL string       `json:"html_url"`
	Commit  CommitDetail `json:"commit"`
	Author  *User        `json:"author"`
}

type IssueComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	IssueURL  string    `json:"issue_url"`
	CreatedAt time.Time `json:"created_at"`
	User      User      `json:"user"`
}

// IssueNumber is the last path segment of issue_url.
func (c IssueComment) IssueNumber() string { return lastSegment(c.IssueURL) }

type PullComment struct {
	ID             int64     `json:"id"`
	Body           string    `json:"body"`
	HTMLURL        string    `json:"html_url"`
	PullRequestURL string    `json:"pull_request_url"`
	CreatedAt      time.Time `json:"created_at"`
	User           User      `json:"user"`
}

// PullNumber is the last path segment of pull_request_url.
func (c PullComment) PullNumber() string { return lastSegment(c.PullRequestURL) }

type Asset struct {
	Name          string `json:"name"`
	DownloadCount int64  `json:"download_count"`
}

type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	Author      *User     `json:"author"`
	Assets      []Asset   `json:"assets"`
}

// Downloads sums download_count over all assets.
func (r Release) Downloads() int64 {
	var n int64
	for _, a := range r.Assets {
		n += a.DownloadCount
	}
	return n
}

type searchResult struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		FullName        string `json:"full_name"`
		StargazersCount int    `json:"stargazers_count"`
	} `json:"items"`
}

// Page is one decoded list response. Elements that failed to decode are
// reported in Malformed instead of failing the whole page.
type Page[T any] struct {
	Items     []T
	Malformed []error
}

// RateInfo is the last rate-limit state reported by the API.
type RateInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Observed  time.Time
}

func lastSegment(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		return u[i+1:]
	}
	return u
}
