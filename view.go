package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"talkie/api"
	"talkie/channel"
	"talkie/session"
)

// tuiView forwards session updates to the Bubble Tea program.
type tuiView struct{}

func (tuiView) Status(msg string) { tuiSend(StatusMsg{Text: msg}) }
func (tuiView) Reply(text string) { tuiSend(ReplyMsg{Text: text}) }
func (tuiView) Connectivity(s channel.State) {
	tuiSend(ConnectivityMsg{State: s})
}

func (tuiView) History(entries []api.HistoryEntry) {
	tuiSend(HistoryMsg{Lines: session.RenderHistory(entries, nil)})
}

// plainView prints one line per update, for -tui=false and test mode.
type plainView struct {
	mu  sync.Mutex
	out io.Writer
}

func (v *plainView) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, "%s  %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}

func (v *plainView) Status(msg string) {
	if msg != "" {
		v.printf("%s", msg)
	}
}

func (v *plainView) Reply(text string) {
	v.printf("↩ %s", text)
}

func (v *plainView) History(entries []api.HistoryEntry) {
	if len(entries) > 0 {
		v.printf("history: %d messages", len(entries))
	}
}

func (v *plainView) Connectivity(s channel.State) {
	v.printf("channel %s", s)
}
