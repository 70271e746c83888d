// Package github is a small read-only client for the GitHub REST API:
// commits, issue and pull request review comments, latest releases and
// repository search. Responses are mapped onto a fetch error taxonomy
// (transient, rate limited, not found) that the poller acts on.
package github
