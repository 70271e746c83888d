package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Resolve maps a package name to the most starred repository whose name
// matches. It reports false when the search has no hits.
func (c *Client) Resolve(ctx context.Context, pkg string) (string, bool, error) {
	pkg = strings.TrimSpace(pkg)
	if pkg == "" {
		return "", false, fmt.Errorf("package name required")
	}
	q := url.Values{}
	q.Set("q", pkg+" in:name")
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", "5")
	body, err := c.get(ctx, "search", "/search/repositories", q, acceptJSON)
	if err != nil {
		return "", false, err
	}
	var res searchResult
	if err := json.Unmarshal(body, &res); err != nil {
		return "", false, &TransientFetchError{Op: "search", Err: fmt.Errorf("decode: %w", err)}
	}
	for _, it := range res.Items {
		if name := strings.TrimSpace(it.FullName); name != "" {
			return name, true, nil
		}
	}
	return "", false, nil
}
