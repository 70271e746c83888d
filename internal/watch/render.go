package watch

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	kit "ghwatch/internal/transport"
)

const (
	commitMessageMax = 100
	commentBodyMax   = 200
	releaseNotesMax  = 1000
	shortSHALen      = 7

	releaseDateLayout = "Jan 02, 2006 at 15:04 MST"
	noReleaseNotes    = "No release notes provided."
)

// Render turns an item into a Telegram HTML message for res.
func Render(res Resource, it Item) (kit.Notification, error) {
	var (
		body string
		err  error
	)
	switch {
	case it.Commit != nil:
		body, err = renderCommit(res, it)
	case it.IssueComment != nil:
		body, err = renderIssueComment(res, it)
	case it.PullComment != nil:
		body, err = renderPullComment(res, it)
	case it.Release != nil:
		body, err = renderRelease(res, it)
	default:
		err = errors.New("empty item")
	}
	if err != nil {
		return kit.Notification{}, &RenderError{Kind: it.Kind, Key: it.Key, Err: err}
	}
	return kit.Notification{
		Key:     it.Key,
		Target:  res.Target,
		Text:    body,
		Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	}, nil
}

func renderCommit(res Resource, it Item) (string, error) {
	c := it.Commit
	if strings.TrimSpace(c.SHA) == "" {
		return "", errors.New("commit without sha")
	}
	sha := c.SHA
	if len(sha) > shortSHALen {
		sha = sha[:shortSHALen]
	}
	author := c.Commit.Author.Name
	if author == "" && c.Author != nil {
		author = c.Author.Login
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📝 <b>New commit to %s</b>\n", esc(res.Name))
	fmt.Fprintf(&b, "<b>Author:</b> %s\n", esc(orUnknown(author)))
	fmt.Fprintf(&b, "<b>SHA:</b> <code>%s</code>\n", esc(sha))
	fmt.Fprintf(&b, "<b>Message:</b> %s", esc(truncate(c.Commit.Message, commitMessageMax)))
	writeFooter(&b, c.HTMLURL, c.Commit.Author.Date)
	return b.String(), nil
}

func renderIssueComment(res Resource, it Item) (string, error) {
	c := it.IssueComment
	if c.ID == 0 {
		return "", errors.New("comment without id")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💬 <b>New issue comment in %s</b>\n", esc(res.Name))
	fmt.Fprintf(&b, "<b>Issue:</b> #%s\n", esc(c.IssueNumber()))
	fmt.Fprintf(&b, "<b>Author:</b> %s\n", esc(orUnknown(c.User.Login)))
	fmt.Fprintf(&b, "<b>Comment:</b> %s", esc(truncate(plainText(c.Body), commentBodyMax)))
	writeFooter(&b, c.HTMLURL, c.CreatedAt)
	return b.String(), nil
}

func renderPullComment(res Resource, it Item) (string, error) {
	c := it.PullComment
	if c.ID == 0 {
		return "", errors.New("comment without id")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "💬 <b>New PR comment in %s</b>\n", esc(res.Name))
	fmt.Fprintf(&b, "<b>Pull request:</b> #%s\n", esc(c.PullNumber()))
	fmt.Fprintf(&b, "<b>Author:</b> %s\n", esc(orUnknown(c.User.Login)))
	fmt.Fprintf(&b, "<b>Comment:</b> %s", esc(truncate(plainText(c.Body), commentBodyMax)))
	writeFooter(&b, c.HTMLURL, c.CreatedAt)
	return b.String(), nil
}

func renderRelease(res Resource, it Item) (string, error) {
	r := it.Release
	tag := strings.TrimSpace(r.TagName)
	if tag == "" {
		return "", errors.New("release without tag")
	}
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = tag
	}
	notes := truncate(plainText(r.Body), releaseNotesMax)
	if notes == "" {
		notes = noReleaseNotes
	}
	repo := res.Repo()

	var b strings.Builder
	title := fmt.Sprintf("📦 %s - New Release!", esc(res.Name))
	if r.HTMLURL != "" {
		title = fmt.Sprintf(`<a href="%s">%s</a>`, esc(r.HTMLURL), title)
	}
	fmt.Fprintf(&b, "<b>%s</b>\n\n", title)
	fmt.Fprintf(&b, "<b>%s</b>\n\n%s\n\n", esc(name), esc(notes))
	fmt.Fprintf(&b, "🏷️ <b>Version:</b> %s\n", esc(tag))
	if !r.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "📅 <b>Published:</b> %s\n", esc(r.PublishedAt.UTC().Format(releaseDateLayout)))
	}
	if r.Author != nil && r.Author.Login != "" {
		if r.Author.HTMLURL != "" {
			fmt.Fprintf(&b, "👤 <b>Author:</b> <a href=\"%s\">%s</a>\n", esc(r.Author.HTMLURL), esc(r.Author.Login))
		} else {
			fmt.Fprintf(&b, "👤 <b>Author:</b> %s\n", esc(r.Author.Login))
		}
	}
	if repo != "" {
		fmt.Fprintf(&b, "🔗 <b>Repository:</b> <a href=\"https://github.com/%s\">%s</a>\n", esc(repo), esc(repo))
	}
	if n := r.Downloads(); n > 0 {
		fmt.Fprintf(&b, "📥 <b>Downloads:</b> %s\n", humanize.Comma(n))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func writeFooter(b *strings.Builder, link string, at time.Time) {
	if link != "" {
		fmt.Fprintf(b, "\n<a href=\"%s\">View on GitHub</a>", esc(link))
	}
	if !at.IsZero() {
		fmt.Fprintf(b, "\n<i>%s</i>", esc(at.UTC().Format(time.RFC1123)))
	}
}

// truncate keeps at most maxRunes runes, replacing the tail with "...".
func truncate(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes-3]) + "..."
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func esc(s string) string { return html.EscapeString(s) }
