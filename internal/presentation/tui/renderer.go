// Package tui renders sessions and outcomes for terminals.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// Renderer formats transcripts as markdown. When styled, glamour renders the
// markdown for the terminal; otherwise the markdown is returned as is.
type Renderer struct {
	md      *glamour.TermRenderer
	profile termenv.Profile
}

// NewRenderer returns a Renderer. styled selects terminal rendering.
func NewRenderer(styled bool) *Renderer {
	r := &Renderer{profile: termenv.Ascii}
	if !styled {
		return r
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
		glamour.WithWordWrap(100),
	)
	if err == nil {
		r.md = md
	}
	r.profile = termenv.ColorProfile()
	return r
}

// Markdown returns the transcript of session as markdown.
func Markdown(session *domain.Session) string {
	var b strings.Builder
	title := session.Title
	if title == "" {
		title = session.CorrelationID
	}
	fmt.Fprintf(&b, "## %s\n\n", title)
	fmt.Fprintf(&b, "`%s` · result location `%s`\n\n", session.CorrelationID, session.ResultLocation)
	if len(session.Messages) == 0 {
		b.WriteString("_No messages yet._\n")
		return b.String()
	}
	for _, m := range session.Messages {
		b.WriteString(messageMarkdown(m))
	}
	return b.String()
}

func messageMarkdown(m domain.Message) string {
	who := "**you**"
	if m.Role == domain.RoleProduced {
		who = "**agent**"
	}
	ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
	return fmt.Sprintf("%s · %s\n\n%s\n\n", who, ts, m.Text)
}

// Transcript renders the whole session.
func (r *Renderer) Transcript(session *domain.Session) (string, error) {
	return r.render(Markdown(session))
}

// Message renders one message.
func (r *Renderer) Message(m domain.Message) (string, error) {
	return r.render(messageMarkdown(m))
}

func (r *Renderer) render(markdown string) (string, error) {
	if r.md == nil {
		return markdown, nil
	}
	return r.md.Render(markdown)
}

// Status colors a one-line summary of an outcome.
func (r *Renderer) Status(o relay.Outcome) string {
	var color string
	switch o.Status {
	case relay.StatusResolved:
		color = "#34d399"
	case relay.StatusTimedOut, relay.StatusQueued:
		color = "#fbbf24"
	default:
		color = "#94a3b8"
	}
	line := string(o.Status)
	if o.Signature != "" {
		line += " (" + o.Signature + ")"
	}
	if r.md == nil {
		return line
	}
	return termenv.String(line).Foreground(r.profile.Color(color)).String()
}
