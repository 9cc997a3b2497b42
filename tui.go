package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"talkie/channel"
	"talkie/gesture"
	"talkie/log"
	"talkie/session"
)

// TUI message types
type RecordingMsg struct{ On bool }
type StatusMsg struct{ Text string }
type ReplyMsg struct{ Text string }
type HistoryMsg struct{ Lines []session.HistoryLine }
type ConnectivityMsg struct{ State channel.State }
type ServerLineMsg struct{ Text string } // Server and signed-in user
type DeviceLineMsg struct{ Text string } // Microphone device name
type copiedMsg struct{ Err error }
type tickMsg time.Time

const (
	eyeWidth  = 45
	eyeHeight = 15
)

type tuiModel struct {
	recording  bool
	pressed    bool // talk button held with the mouse
	frame      int
	width      int
	height     int
	status     string
	conn       channel.State
	serverLine string
	deviceLine string
	lastReply  string
	replyCount int
	history    []session.HistoryLine
	copyNote   string
	input      *tuiInput
	copyReply  func() error
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

// tuiInput is the on-screen talk button as a gesture source.
type tuiInput struct {
	events chan gesture.Event
}

func newTUIInput() *tuiInput {
	return &tuiInput{events: make(chan gesture.Event, 64)}
}

func (t *tuiInput) Register() error              { return nil }
func (t *tuiInput) Unregister()                  {}
func (t *tuiInput) Events() <-chan gesture.Event { return t.events }

// send never blocks the UI; a gesture that finds the queue full is dropped.
func (t *tuiInput) send(kind gesture.Kind, src gesture.Source) {
	select {
	case t.events <- gesture.Event{Kind: kind, Source: src}:
	default:
		log.Warnf("tui: gesture queue full, dropping %s %s", src, kind)
	}
}

// Pre-computed pixel styles to avoid allocations in render loop
var (
	pixelColorsRec  = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"}
	pixelColorsIdle = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"}
	pixelStylesRec  [16]lipgloss.Style
	pixelStylesIdle [16]lipgloss.Style
	pixelBgRec      [16][16]lipgloss.Style
	pixelBgIdle     [16][16]lipgloss.Style
)

func init() {
	for i, c := range pixelColorsRec {
		if c != "" {
			pixelStylesRec[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, c := range pixelColorsIdle {
		if c != "" {
			pixelStylesIdle[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, fg := range pixelColorsRec {
		for j, bg := range pixelColorsRec {
			if fg != "" && bg != "" {
				pixelBgRec[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
	for i, fg := range pixelColorsIdle {
		for j, bg := range pixelColorsIdle {
			if fg != "" && bg != "" {
				pixelBgIdle[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
}


func NewTUIProgram(input *tuiInput, copyReply func() error) *tea.Program {
	m := tuiModel{input: input, copyReply: copyReply}
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithReportFocus())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func onEye(x, y int) bool {
	return x >= 0 && x < eyeWidth-1 && y >= 0 && y < eyeHeight
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "c":
			copyReply := m.copyReply
			return m, func() tea.Msg { return copiedMsg{Err: copyReply()} }
		}

	case tea.MouseMsg:
		switch msg.Action {
		case tea.MouseActionPress:
			if msg.Button == tea.MouseButtonLeft && onEye(msg.X, msg.Y) && !m.pressed {
				m.pressed = true
				m.input.send(gesture.Down, gesture.Mouse)
			}
		case tea.MouseActionRelease:
			if !m.pressed {
				break
			}
			m.pressed = false
			// releasing off the button still has to end the recording
			if onEye(msg.X, msg.Y) {
				m.input.send(gesture.Up, gesture.Mouse)
			} else {
				m.input.send(gesture.Cancel, gesture.Global)
			}
		}

	case tea.BlurMsg:
		if m.pressed {
			m.pressed = false
			m.input.send(gesture.Cancel, gesture.Global)
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case RecordingMsg:
		m.recording = msg.On

	case StatusMsg:
		m.status = msg.Text

	case ReplyMsg:
		m.replyCount++
		m.lastReply = msg.Text
		m.copyNote = ""

	case HistoryMsg:
		m.history = msg.Lines

	case ConnectivityMsg:
		m.conn = msg.State

	case ServerLineMsg:
		m.serverLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case copiedMsg:
		if msg.Err != nil {
			m.copyNote = "copy failed: " + msg.Err.Error()
		} else {
			m.copyNote = "✓ copied"
		}
	}
	return m, nil
}

func connectivityLine(s channel.State) string {
	switch s {
	case channel.Connected:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("● live")
	case channel.Connecting:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("◌ connecting")
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("○ offline, polling for replies")
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	// Talk button pulses while recording
	level := 0.0
	if m.recording {
		level = 0.01 + 0.01*math.Sin(float64(m.frame)*0.3)
	}
	eye := renderHALEye(m.frame, level, m.recording)

	var infoLines []string

	if m.recording {
		infoLines = append(infoLines, lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Render("● REC"))
	} else {
		infoLines = append(infoLines, lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Render("○ STANDBY"))
	}
	if m.status != "" {
		infoLines = append(infoLines, lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Render(m.status))
	}
	infoLines = append(infoLines, connectivityLine(m.conn))

	grey := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	if m.serverLine != "" {
		infoLines = append(infoLines, grey.Render(m.serverLine))
	}
	if m.deviceLine != "" {
		infoLines = append(infoLines, grey.Render(m.deviceLine))
	}

	infoLines = append(infoLines, "")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	infoLines = append(infoLines,
		helpStyle.Render("hold ")+boldStyle.Render("Ctrl+Shift+Space")+helpStyle.Render(" or the eye to talk"),
		boldStyle.Render("c")+helpStyle.Render(" copy reply  ")+boldStyle.Render("q")+helpStyle.Render(" quit"),
		helpStyle.Render("talkie "+version),
	)

	for _, line := range infoLines {
		eye += line + "\n"
	}
	eyeLines := strings.Split(eye, "\n")

	logWidth := max(m.width-eyeWidth-1, 20)
	wrapWidth := max(logWidth-2, 10)

	var right strings.Builder
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	if m.lastReply != "" {
		right.WriteString(titleStyle.Render(fmt.Sprintf("Last reply (#%d)", m.replyCount)) + "\n\n")
		replyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
		lines := wrapText(m.lastReply, wrapWidth)
		for i, line := range lines {
			right.WriteString(replyStyle.Render(line))
			if i == len(lines)-1 && m.copyNote != "" {
				right.WriteString(" " + lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("["+m.copyNote+"]"))
			}
			right.WriteString("\n")
		}
	} else {
		right.WriteString(grey.Render("No replies yet") + "\n")
	}

	if len(m.history) > 0 {
		right.WriteString("\n" + titleStyle.Render("History") + "\n\n")
		textStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		awaitStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
		failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		answerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
		for _, h := range m.history {
			head := h.Text
			if h.When != "" {
				head = grey.Render(h.When) + " " + textStyle.Render(h.Text)
			}
			right.WriteString(head + "\n")
			style := answerStyle
			switch {
			case h.Failed:
				style = failStyle
			case h.Awaiting:
				style = awaitStyle
			}
			for _, line := range wrapText(h.Reply, wrapWidth-4) {
				right.WriteString("  ↳ " + style.Render(line) + "\n")
			}
		}
	}

	logPanel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		MaxHeight(m.height).
		PaddingLeft(1).
		Render(right.String())

	eyePadded := make([]string, m.height)
	for i := range eyePadded {
		if i < len(eyeLines) {
			eyePadded[i] = eyeLines[i]
		} else {
			eyePadded[i] = strings.Repeat(" ", eyeWidth-1)
		}
	}

	eyePanel := lipgloss.NewStyle().
		Width(eyeWidth - 1).
		Height(m.height).
		Render(strings.Join(eyePadded, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, logPanel)
}

func renderHALEye(frame int, level float64, recording bool) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	// Voice-reactive breathing
	var breathe float64
	if recording {
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*10.0 - 0.05
	} else {
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	pixels := make([][]int, pixH)
	for i := range pixels {
		pixels[i] = make([]int, pixW)
	}

	type ring struct {
		radius     float64
		breatheAmt float64
		colorIdx   int
	}

	rings := []ring{
		{0.6, 0.10, 1},
		{1.3, 0.12, 2},
		{2.0, 0.15, 3},
		{2.8, 0.35, 4},  // red rings: high reactivity
		{3.5, 0.40, 5},
		{4.2, 0.38, 6},
		{5.0, 0.30, 7},
		{5.8, 0.15, 8},
		{6.5, 0.03, 9},
		{7.2, 0.0, 10},
		{8.0, 0.0, 11},
		{10.0, 0.0, 12},
		{12.0, 0.0, 13},
	}

	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				radius := r.radius + breathe*r.breatheAmt*20
				if radius > 10.0 {
					radius = 10.0
				}
				if dist < radius {
					pixels[y][x] = r.colorIdx
					break
				}
			}
		}
	}

	// Glass reflections
	type spot struct {
		ox, oy float64
		radius float64
		color  int
	}
	dSide := 9.0
	dSide2 := 7.2
	dTop := 10.0
	dTop2 := 8.2
	spots := []spot{
		{-dSide * 0.707, -dSide * 0.707, 0.7, 14},
		{-dSide2 * 0.707, -dSide2 * 0.707, 0.4, 15},
		{0, -dTop, 0.8, 14},
		{0, -dTop2, 0.6, 15},
		{dSide * 0.707, -dSide * 0.707, 0.7, 14},
		{dSide2 * 0.707, -dSide2 * 0.707, 0.4, 15},
		{0, -2.0, 0.6, 14},
	}
	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			px := float64(x) - centerX
			py := float64(y) - centerY
			for _, s := range spots {
				dx := px - s.ox
				dy := py - s.oy
				rLen := math.Sqrt(s.ox*s.ox + s.oy*s.oy)
				if rLen < 0.001 {
					rLen = 1
				}
				tx, ty := -s.oy/rLen, s.ox/rLen
				dt := dx*tx + dy*ty
				dn := dx*(-ty) + dy*tx
				if (dt*dt)/9.0+dn*dn < s.radius*s.radius {
					pixels[y][x] = s.color
				}
			}
		}
	}

	// Use pre-computed styles based on recording state
	var styles *[16]lipgloss.Style
	var bgStyles *[16][16]lipgloss.Style
	if recording {
		styles = &pixelStylesRec
		bgStyles = &pixelBgRec
	} else {
		styles = &pixelStylesIdle
		bgStyles = &pixelBgIdle
	}

	var result strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			topY := cy * 2
			botY := cy*2 + 1
			top := 0
			bot := 0
			if topY < pixH {
				top = pixels[topY][cx]
			}
			if botY < pixH {
				bot = pixels[botY][cx]
			}
			if top == 0 && bot == 0 {
				result.WriteString(" ")
			} else if top == bot {
				result.WriteString(styles[top].Render("█"))
			} else if top != 0 && bot == 0 {
				result.WriteString(styles[top].Render("▀"))
			} else if top == 0 && bot != 0 {
				result.WriteString(styles[bot].Render("▄"))
			} else {
				result.WriteString(bgStyles[top][bot].Render("▀"))
			}
		}
		result.WriteString("\n")
	}
	return result.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
