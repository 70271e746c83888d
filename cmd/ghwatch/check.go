package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ghwatch/internal/config"
	"ghwatch/internal/github"
	"ghwatch/internal/watch"
	"ghwatch/pkg/logx"
)

type githubFlags struct {
	token   string
	baseURL string
	timeout time.Duration
}

func (f *githubFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", "", "GitHub token (default $"+config.EnvGitHubToken+")")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "GitHub API base URL")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 20*time.Second, "request timeout")
}

func (f *githubFlags) client() *github.Client {
	tok := strings.TrimSpace(f.token)
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv(config.EnvGitHubToken))
	}
	return github.New(github.Config{Token: tok, BaseURL: f.baseURL, Timeout: f.timeout}, logx.Nop())
}

func newCheckCmd() *cobra.Command {
	var (
		gh    githubFlags
		since time.Duration
		kinds []string
	)
	cmd := &cobra.Command{
		Use:   "check <owner/repo>",
		Short: "Fetch recent activity of a repository once and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := watch.ValidateName(watch.KindRepository, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c := gh.client()
			res := watch.Resource{Kind: watch.KindRepository, Name: name}
			return checkOnce(ctx, cmd.OutOrStdout(), watch.NewGitHubFetcher(c, c), res, kinds, time.Now().Add(-since))
		},
	}
	gh.register(cmd)
	cmd.Flags().DurationVar(&since, "since", time.Hour, "how far back to look")
	cmd.Flags().StringSliceVar(&kinds, "kind", []string{"commits", "issue_comments", "pr_comments", "release"}, "streams to fetch")
	return cmd
}

// checkOnce prints every item of the requested streams. Nothing is
// recorded, so repeated runs print the same items.
func checkOnce(ctx context.Context, w io.Writer, f watch.Fetcher, res watch.Resource, kinds []string, since time.Time) error {
	total := 0
	for _, k := range kinds {
		kind := watch.EventKind(strings.TrimSpace(k))
		items, err := f.Fetch(ctx, res, kind, since)
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		bad := 0
		for _, it := range items {
			if it.Err != nil {
				bad++
				continue
			}
			n, err := watch.Render(res, it)
			if err != nil {
				bad++
				continue
			}
			total++
			fmt.Fprintf(w, "--- %s %s\n%s\n\n", kind, it.Key, n.Text)
		}
		if bad > 0 {
			fmt.Fprintf(w, "(%s: %d malformed item(s) skipped)\n", kind, bad)
		}
	}
	fmt.Fprintf(w, "%d item(s) for %s since %s\n", total, res.Name, since.UTC().Format(time.RFC3339))
	return nil
}

func newResolveCmd() *cobra.Command {
	var gh githubFlags
	cmd := &cobra.Command{
		Use:   "resolve <package>",
		Short: "Show the GitHub repository a package name resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := watch.ValidateName(watch.KindPackage, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			repo, found, err := gh.client().Resolve(ctx, name)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s: %w", name, watch.ErrUnresolved)
			}
			fmt.Fprintln(cmd.OutOrStdout(), repo)
			return nil
		},
	}
	gh.register(cmd)
	return cmd
}
