package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"ghwatch/pkg/logx"
)

const (
	DefaultBaseURL   = "https://api.github.com"
	DefaultUserAgent = "ghwatch"

	acceptV3   = "application/vnd.github.v3+json"
	acceptJSON = "application/vnd.github+json"

	maxErrorBody = 512
	perPage      = 100
	// maxPages bounds one list call at maxPages*perPage elements.
	maxPages = 10
)

type Config struct {
	// Token is optional. Without it requests are anonymous and share the
	// much lower unauthenticated rate limit.
	Token     string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	log       logx.Logger

	mu   sync.Mutex
	rate RateInfo
	now  func() time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}

	var rt http.RoundTripper = http.DefaultTransport
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		}
	}
	return &Client{
		http:      &http.Client{Transport: rt, Timeout: timeout},
		baseURL:   base,
		userAgent: ua,
		log:       log.With(logx.String("comp", "github")),
		now:       time.Now,
	}
}

// Rate returns the last observed rate-limit headers.
func (c *Client) Rate() RateInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// get performs a GET on path and returns the body of a 2xx response.
// Every other outcome is mapped onto the package error types.
func (c *Client) get(ctx context.Context, op, path string, q url.Values, accept string) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	body, _, err := c.fetch(ctx, op, u, accept)
	return body, err
}

// list GETs path and follows Link rel="next" for up to maxPages pages,
// concatenating the elements in the order the API returns them.
func list[T any](ctx context.Context, c *Client, op, path string, q url.Values, accept string) (Page[T], error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var out Page[T]
	for n := 1; ; n++ {
		body, h, err := c.fetch(ctx, op, u, accept)
		if err != nil {
			return Page[T]{}, err
		}
		page, err := decodeList[T](op, body)
		if err != nil {
			return Page[T]{}, err
		}
		out.Items = append(out.Items, page.Items...)
		out.Malformed = append(out.Malformed, page.Malformed...)

		next := nextLink(h)
		if next == "" {
			return out, nil
		}
		if !strings.HasPrefix(next, c.baseURL+"/") {
			c.log.Warn("ignoring next page on foreign host", logx.String("op", op), logx.String("url", next))
			return out, nil
		}
		if n >= maxPages {
			c.log.Warn("list truncated",
				logx.String("op", op),
				logx.Int("pages", n),
				logx.Int("items", len(out.Items)),
			)
			return out, nil
		}
		u = next
	}
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(h http.Header) string {
	for _, v := range h.Values("Link") {
		for _, part := range strings.Split(v, ",") {
			target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
			if !ok {
				continue
			}
			target = strings.TrimSpace(target)
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, p := range strings.Split(params, ";") {
				k, val, _ := strings.Cut(strings.TrimSpace(p), "=")
				if strings.TrimSpace(k) == "rel" && strings.Trim(strings.TrimSpace(val), `"`) == "next" {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

func (c *Client) fetch(ctx context.Context, op, u, accept string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("github %s: %w", op, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &TransientFetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.observeRate(resp.Header)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &TransientFetchError{Op: op, Status: resp.StatusCode, Err: err}
	}
	c.log.Trace("github request",
		logx.String("op", op),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", c.now().Sub(start)),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, resp.Header, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil, &NotFoundError{Op: op, URL: u}
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && isRateLimited(resp.Header):
		return nil, nil, c.rateLimited(op, resp)
	case resp.StatusCode >= 500:
		return nil, nil, &TransientFetchError{Op: op, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	default:
		return nil, nil, &StatusError{Op: op, Status: resp.StatusCode, Body: snippet(body)}
	}
}

func isRateLimited(h http.Header) bool {
	return h.Get("X-RateLimit-Remaining") == "0" || h.Get("Retry-After") != ""
}

func (c *Client) rateLimited(op string, resp *http.Response) *RateLimitedError {
	e := &RateLimitedError{Op: op, Status: resp.StatusCode}
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && v > 0 {
		e.Reset = time.Unix(v, 0)
	}
	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(ra); err == nil {
			e.RetryAfter = max(at.Sub(c.now()), 0)
		}
	}
	return e
}

func (c *Client) observeRate(h http.Header) {
	rem, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	info := RateInfo{Remaining: rem, Observed: c.now()}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		info.Limit = v
	}
	if v, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		info.Reset = time.Unix(v, 0)
	}
	c.mu.Lock()
	c.rate = info
	c.mu.Unlock()
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// decodeList decodes a JSON array element by element so one bad element
// does not discard the page.
func decodeList[T any](op string, body []byte) (Page[T], error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return Page[T]{}, &TransientFetchError{Op: op, Err: fmt.Errorf("decode list: %w", err)}
	}
	page := Page[T]{Items: make([]T, 0, len(raws))}
	for i, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			page.Malformed = append(page.Malformed, fmt.Errorf("%s item %d: %w", op, i, err))
			continue
		}
		page.Items = append(page.Items, v)
	}
	return page, nil
}

func repoPath(repo string) (string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

func sinceQuery(since time.Time, sorted bool) url.Values {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("per_page", strconv.Itoa(perPage))
	if sorted {
		q.Set("sort", "created")
		q.Set("direction", "asc")
	}
	return q
}
