package session

import (
	"strings"
	"time"

	"talkie/api"
)

const (
	awaitingLabel = "… awaiting reply"
	failedLabel   = "✗ no reply"
)

// HistoryLine is one rendered exchange.
type HistoryLine struct {
	When     string
	Text     string
	Reply    string
	Awaiting bool
	Failed   bool
}

// RenderHistory turns the server's list into display lines, newest first.
// Unanswered entries read as awaiting unless the server timed them out.
func RenderHistory(entries []api.HistoryEntry, loc *time.Location) []HistoryLine {
	if loc == nil {
		loc = time.Local
	}
	lines := make([]HistoryLine, 0, len(entries))
	for _, e := range entries {
		l := HistoryLine{Text: e.Text}
		if !e.SentAt.IsZero() {
			l.When = e.SentAt.In(loc).Format("15:04")
		}
		switch {
		case e.Answered():
			l.Reply = e.Reply
		case e.Failed():
			l.Reply = failedLabel
			l.Failed = true
		default:
			l.Reply = awaitingLabel
			l.Awaiting = true
		}
		lines = append(lines, l)
	}
	return lines
}

func (l HistoryLine) String() string {
	var b strings.Builder
	if l.When != "" {
		b.WriteString("[" + l.When + "] ")
	}
	b.WriteString(l.Text)
	b.WriteString("\n  ↳ ")
	b.WriteString(l.Reply)
	return b.String()
}
