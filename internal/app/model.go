package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jwulff/patientsim/internal/config"
	"github.com/jwulff/patientsim/internal/session"
	"github.com/jwulff/patientsim/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// Session is the controller surface the model drives.
type Session interface {
	Mount(ctx context.Context) error
	Start(ctx context.Context) error
	Continue() error
	ToggleMute()
	StartCapture() error
	StopCapture(ctx context.Context) error
	SubmitFeedback(ctx context.Context, fb session.Feedback) error
	Leave()
	Snapshot() session.Snapshot
	Updates() <-chan session.Snapshot
}

var _ Session = (*session.Controller)(nil)

// Popup is the results overlay currently shown.
type Popup int

const (
	PopupNone Popup = iota
	PopupLabs
	PopupXray
)

const (
	minZoom       = 1.0
	maxZoom       = 3.0
	zoomStep      = 0.5
	defaultRating = 5
	maxTextLen    = 2000
)

// Model is the root bubbletea model for the patientsim TUI.
type Model struct {
	sess  Session
	ctx   context.Context
	cases config.Case

	snap    session.Snapshot
	mounted bool
	busy    string // action in flight, if any

	// Results popups
	popup Popup
	zoom  float64

	// Feedback form
	rating       int
	feedbackText string

	// UI state
	width  int
	height int

	// Errors
	errorMessage   string
	errorTransient bool
	errorSeq       int

	exiting bool
}

// New creates a Model over sess. Case supplies the results popup content.
func New(ctx context.Context, sess Session, c config.Case) Model {
	if ctx == nil {
		ctx = context.Background()
	}
	return Model{
		sess:   sess,
		ctx:    ctx,
		cases:  c,
		snap:   sess.Snapshot(),
		zoom:   minZoom,
		rating: defaultRating,
	}
}

// Init mounts the session and starts listening for snapshots.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		mountCmd(m.ctx, m.sess),
		waitForSnapshotCmd(m.sess.Updates()),
	)
}

func mountCmd(ctx context.Context, sess Session) tea.Cmd {
	return func() tea.Msg {
		return MountedMsg{Err: sess.Mount(ctx)}
	}
}

// waitForSnapshotCmd blocks for the next published snapshot.
func waitForSnapshotCmd(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return SessionClosedMsg{}
		}
		return SnapshotMsg{Snapshot: s}
	}
}

// actionCmd runs a session call off the update loop.
func actionCmd(action string, f func() error) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: action, Err: f()}
	}
}

func leaveCmd(sess Session) tea.Cmd {
	return func() tea.Msg {
		sess.Leave()
		return SessionExitedMsg{}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd(seq int) tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{seq: seq}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		return m, waitForSnapshotCmd(m.sess.Updates())

	case SessionClosedMsg:
		return m, nil

	case SessionExitedMsg:
		m.exiting = true
		return m, tea.Quit

	case MountedMsg:
		m.mounted = true
		m.snap = m.sess.Snapshot()
		return m, nil

	case ActionResultMsg:
		if m.busy == msg.Action {
			m.busy = ""
		}
		if msg.Err == nil || errors.Is(msg.Err, session.ErrClosed) {
			return m, nil
		}
		return m.setTransientError(fmt.Sprintf("%s: %v", msg.Action, msg.Err))

	case ClearTransientErrorMsg:
		if m.errorTransient && msg.seq == m.errorSeq {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) applySnapshot(s session.Snapshot) {
	if s.State == session.StateFeedback && m.snap.State != session.StateFeedback {
		m.rating = defaultRating
		m.feedbackText = ""
		m.popup = PopupNone
	}
	if !s.ResultsVisible {
		m.popup = PopupNone
	}
	m.snap = s
}

func (m Model) setTransientError(text string) (tea.Model, tea.Cmd) {
	m.errorSeq++
	m.errorMessage = text
	m.errorTransient = true
	return m, clearTransientErrorCmd(m.errorSeq)
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == KeyCtrlC {
		return m, leaveCmd(m.sess)
	}
	if m.exiting {
		return m, nil
	}

	if m.popup != PopupNone {
		if cmd, handled := m.handlePopupKey(key); handled {
			return m, cmd
		}
	}
	if m.snap.State == session.StateFeedback {
		return m.handleFeedbackKey(msg)
	}

	switch key {
	case KeyQuit, KeyQuitUpper, KeyBack:
		return m, leaveCmd(m.sess)

	case KeyStart, KeyEnter:
		if m.snap.State != session.StateInitial || m.snap.Loading || m.busy != "" {
			return m, nil
		}
		m.busy = "start"
		sess, ctx := m.sess, m.ctx
		return m, actionCmd("start", func() error { return sess.Start(ctx) })

	case KeyContinue:
		if m.snap.State != session.StatePatientTalking {
			return m, nil
		}
		return m, actionCmd("continue", m.sess.Continue)

	case KeySpace:
		switch m.snap.State {
		case session.StateUserPrompted:
			return m, actionCmd("record", m.sess.StartCapture)
		case session.StateUserTalking:
			if m.busy != "" {
				return m, nil
			}
			m.busy = "stop"
			sess, ctx := m.sess, m.ctx
			return m, actionCmd("stop", func() error { return sess.StopCapture(ctx) })
		}
		return m, nil

	case KeyMute:
		sess := m.sess
		return m, actionCmd("mute", func() error { sess.ToggleMute(); return nil })

	case KeyLabs:
		if m.snap.ResultsVisible {
			m.popup = PopupLabs
		}
		return m, nil

	case KeyXray:
		if m.snap.ResultsVisible {
			m.popup = PopupXray
		}
		return m, nil
	}

	return m, nil
}

// handlePopupKey handles keys owned by an open popup.
func (m *Model) handlePopupKey(key string) (tea.Cmd, bool) {
	switch key {
	case KeyEsc:
		m.popup = PopupNone
		return nil, true
	case KeyZoomIn, KeyZoomInAlt:
		if m.popup == PopupXray {
			m.zoom = min(m.zoom+zoomStep, maxZoom)
		}
		return nil, true
	case KeyZoomOut:
		if m.popup == PopupXray {
			m.zoom = max(m.zoom-zoomStep, minZoom)
		}
		return nil, true
	}
	return nil, false
}

// handleFeedbackKey edits the feedback form. Letters are text here, so only
// the editing keys and ctrl+c have bindings.
func (m Model) handleFeedbackKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyLeft:
		m.rating = max(m.rating-1, session.MinRating)
	case tea.KeyRight:
		m.rating = min(m.rating+1, session.MaxRating)
	case tea.KeyBackspace:
		if r := []rune(m.feedbackText); len(r) > 0 {
			m.feedbackText = string(r[:len(r)-1])
		}
	case tea.KeyEnter:
		if m.busy != "" {
			return m, nil
		}
		m.busy = "submit"
		sess, ctx := m.sess, m.ctx
		fb := session.Feedback{Rating: m.rating, Text: strings.TrimSpace(m.feedbackText)}
		return m, actionCmd("submit", func() error { return sess.SubmitFeedback(ctx, fb) })
	case tea.KeySpace:
		m.appendText(" ")
	case tea.KeyRunes:
		m.appendText(string(msg.Runes))
	}
	return m, nil
}

func (m *Model) appendText(s string) {
	if len(m.feedbackText)+len(s) > maxTextLen {
		return
	}
	m.feedbackText += s
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + divider(1) + error(1) + footer(1) + padding
	reserved := 7
	return max(8, m.height-reserved)
}

func (m Model) sidebarWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(22, m.width*30/100)
}

func (m Model) mainPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.sidebarWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	if bar := m.renderErrorBar(); bar != "" {
		sections = append(sections, bar)
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("PATIENT SIMULATION")
	var topic string
	if m.cases.Topic != "" {
		topic = ui.DimStyle.Render(" — " + m.cases.Topic)
	}
	return title + topic
}

func stateLabel(s session.State) string {
	switch s {
	case session.StateInitial:
		return "READY"
	case session.StatePatientTalking:
		return "PATIENT SPEAKING"
	case session.StateUserPrompted:
		return "YOUR TURN"
	case session.StateUserTalking:
		return "RECORDING"
	case session.StateFeedback:
		return "SESSION COMPLETE"
	}
	return strings.ToUpper(s.String())
}

func (m Model) renderStatusBar() string {
	parts := []string{ui.StateStyle.Render(stateLabel(m.snap.State))}

	if m.snap.State == session.StateUserTalking {
		parts = append(parts, ui.RecordingDotStyle.Render("● REC"))
	}
	if m.snap.Speaking {
		parts = append(parts, ui.SpeakingStyle.Render("♪ speaking"))
	}
	if m.snap.Muted {
		parts = append(parts, ui.MutedStyle.Render("✕ muted"))
	}
	if m.snap.Loading {
		parts = append(parts, ui.SpinnerStyle.Render("⟳ loading"))
	}
	if !m.mounted {
		parts = append(parts, ui.StatusStyle.Render("opening microphone..."))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderMainContent() string {
	sideW := m.sidebarWidth()
	mainW := m.mainPanelWidth()
	contentH := m.contentHeight()

	sideLines := strings.Split(m.renderSidebar(sideW, contentH), "\n")
	mainLines := strings.Split(m.renderMainPanel(mainW, contentH), "\n")

	divider := ui.DividerStyle.Render("│")
	var rows []string
	for i := 0; i < contentH; i++ {
		sl := strings.Repeat(" ", sideW)
		if i < len(sideLines) {
			sl = sideLines[i]
		}
		ml := ""
		if i < len(mainLines) {
			ml = mainLines[i]
		}
		rows = append(rows, sl+divider+" "+ml)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderSidebar(width, height int) string {
	var lines []string
	lines = append(lines, ui.PanelTitleStyle.Render("CASE"))
	if m.cases.Topic != "" {
		lines = append(lines, "  "+m.cases.Topic)
	}
	lines = append(lines, "")

	lines = append(lines, ui.PanelTitleStyle.Render("PROGRESS"))
	lines = append(lines, "  "+renderProgressBar(m.snap.Progress, max(6, width-10)))
	if m.snap.TotalPrompts > 0 {
		lines = append(lines, ui.DimStyle.Render(fmt.Sprintf("  prompt %d of %d", m.snap.PromptIndex+1, m.snap.TotalPrompts)))
	}

	if m.snap.ResultsVisible {
		lines = append(lines, "")
		lines = append(lines, ui.PanelTitleStyle.Render("RESULTS"))
		lines = append(lines, m.resultShortcut(KeyXray, "X-ray", PopupXray))
		lines = append(lines, m.resultShortcut(KeyLabs, "Lab Results", PopupLabs))
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(truncateToWidth(l, width), width)
	}
	return strings.Join(lines, "\n")
}

func (m Model) resultShortcut(key, label string, p Popup) string {
	if m.popup == p {
		return ui.SelectedStyle.Render("> [" + key + "] " + label)
	}
	return "  " + ui.FooterKeyStyle.Render("["+key+"]") + " " + label
}

func renderProgressBar(progress float64, width int) string {
	filled := int(progress*float64(width) + 0.5)
	filled = min(max(filled, 0), width)
	bar := ui.ProgressFilledStyle.Render(strings.Repeat("█", filled)) +
		ui.ProgressEmptyStyle.Render(strings.Repeat("░", width-filled))
	return bar + fmt.Sprintf(" %3d%%", int(progress*100+0.5))
}

func (m Model) renderMainPanel(width, height int) string {
	if m.popup != PopupNone {
		return m.renderPopup(width, height)
	}

	textW := max(10, width-4)
	var lines []string

	caption := func() {
		if m.snap.Caption == "" {
			return
		}
		lines = append(lines, ui.PatientLabelStyle.Render("Patient:"))
		for _, wl := range wrapText(m.snap.Caption, textW) {
			lines = append(lines, "  "+ui.CaptionStyle.Render(wl))
		}
		lines = append(lines, "")
	}

	switch m.snap.State {
	case session.StateInitial:
		lines = append(lines, "")
		if m.snap.Loading {
			lines = append(lines, ui.DimStyle.Render("  Loading..."))
		} else {
			lines = append(lines, "  Press "+ui.FooterKeyStyle.Render("s")+" to start the interview")
		}

	case session.StatePatientTalking:
		if m.snap.Loading {
			lines = append(lines, ui.DimStyle.Render("  Loading..."))
			break
		}
		caption()
		lines = append(lines, ui.DimStyle.Render("  Press c to continue"))

	case session.StateUserPrompted:
		caption()
		lines = append(lines, ui.CueStyle.Render("  Your turn. Press Space to record your response."))

	case session.StateUserTalking:
		caption()
		if m.snap.Loading {
			lines = append(lines, ui.SpinnerStyle.Render("  ⟳ Saving your response..."))
		} else {
			lines = append(lines, ui.RecordingDotStyle.Render("  ● Recording")+ui.DimStyle.Render("  press Space to stop"))
		}

	case session.StateFeedback:
		caption()
		lines = append(lines, m.renderFeedbackForm(textW)...)
	}

	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFeedbackForm(width int) []string {
	lines := []string{
		ui.PanelTitleStyle.Render("Session Completed"),
		ui.DimStyle.Render("Please rate your experience and provide feedback:"),
		"",
		"Rating: " + renderRating(m.rating) + fmt.Sprintf("  %d/%d", m.rating, session.MaxRating),
		"",
	}

	text := m.feedbackText
	if text == "" {
		text = ui.DimStyle.Render("Please share your thoughts about this simulation...")
	}
	box := ui.InputStyle.Width(max(10, width-2)).Render(strings.Join(wrapText(text+"▌", max(4, width-6)), "\n"))
	lines = append(lines, strings.Split(box, "\n")...)

	if m.busy == "submit" {
		lines = append(lines, ui.SpinnerStyle.Render("⟳ Submitting..."))
	}
	return lines
}

func renderRating(rating int) string {
	var b strings.Builder
	for i := session.MinRating; i <= session.MaxRating; i++ {
		if i <= rating {
			b.WriteString(ui.CueStyle.Render("★"))
		} else {
			b.WriteString(ui.DimStyle.Render("☆"))
		}
	}
	return b.String()
}

func (m Model) renderPopup(width, height int) string {
	var title string
	var body []string

	switch m.popup {
	case PopupLabs:
		title = m.cases.LabTitle
		body = m.cases.Labs
	case PopupXray:
		title = fmt.Sprintf("%s  (zoom %.1fx)", m.cases.ImagingTitle, m.zoom)
		// Zoom widens the plate and the caption is wrapped to it.
		plateW := min(width-6, int(float64(max(16, width/3))*m.zoom))
		plateH := min(height-8, int(3*m.zoom))
		for i := 0; i < plateH; i++ {
			body = append(body, ui.DimStyle.Render(strings.Repeat("▒", max(1, plateW))))
		}
		body = append(body, "")
		body = append(body, wrapText(m.cases.ImagingCaption, max(10, plateW))...)
	}

	content := ui.PanelTitleStyle.Render(title) + "\n\n" + strings.Join(body, "\n") +
		"\n\n" + ui.DimStyle.Render("esc close")
	return ui.PopupStyle.MaxWidth(width).Render(content)
}

func (m Model) renderErrorBar() string {
	if m.snap.Notice != "" {
		return ui.ErrorStyle.Render("Microphone: ") + ui.ErrorTextStyle.Render(m.snap.Notice)
	}
	if m.errorMessage != "" {
		return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
	}
	return ""
}

func footerKey(key, desc string) string {
	return ui.FooterKeyStyle.Render(key) + ui.FooterDescStyle.Render(" "+desc)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.popup != PopupNone {
		parts = append(parts, footerKey("esc", "Close"))
		if m.popup == PopupXray {
			parts = append(parts, footerKey("+/-", "Zoom"))
		}
	}

	switch m.snap.State {
	case session.StateInitial:
		parts = append(parts, footerKey("s", "Start"))
	case session.StatePatientTalking:
		parts = append(parts, footerKey("c", "Continue"))
	case session.StateUserPrompted:
		parts = append(parts, footerKey("Space", "Record"))
	case session.StateUserTalking:
		parts = append(parts, footerKey("Space", "Stop"))
	case session.StateFeedback:
		parts = append(parts, footerKey("←/→", "Rating"))
		parts = append(parts, footerKey("Enter", "Submit"))
		parts = append(parts, footerKey("ctrl+c", "Quit"))
		return strings.Join(parts, "  ")
	}

	if m.snap.Muted {
		parts = append(parts, footerKey("m", "Unmute"))
	} else {
		parts = append(parts, footerKey("m", "Mute"))
	}
	if m.snap.ResultsVisible && m.popup == PopupNone {
		parts = append(parts, footerKey("x/l", "Results"))
	}
	parts = append(parts, footerKey("b", "Back"))
	parts = append(parts, footerKey("q", "Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible <= width {
		return s
	}
	// Simple truncation for non-styled strings
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		} else {
			lines = append(lines, "")
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
