// internal/tui/app.go
//
// The review console. It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The console is the human half of the approval loop: it lists every task
// waiting in Pending_Approval, shows the full document, and records the
// decision through the same transition engine the workers use.

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vaultship/greenlight/internal/engine"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// appState represents which "screen" we're on
type appState int

const (
	stateQueue  appState = iota // Pending approval queue
	stateDetail                 // Full document for one task
	stateReject                 // Rejection reason prompt
)

const queueRefreshInterval = 3 * time.Second

type refreshMsg struct {
	items []queueItem
	err   error
}

type decisionMsg struct {
	name    string
	verdict string
	err     error
}

// queueItem implements list.Item for one pending task.
type queueItem struct {
	name         string
	id           string
	actionType   string
	counterparty string
	amount       any
	created      time.Time
}

func (i queueItem) Title() string {
	title := i.actionType
	if i.counterparty != "" {
		title += " · " + i.counterparty
	}
	if i.amount != nil {
		title += fmt.Sprintf(" · $%v", i.amount)
	}
	return title
}

func (i queueItem) Description() string {
	desc := i.id
	if !i.created.IsZero() {
		desc += " · " + i.created.Format("2006-01-02 15:04")
	}
	return desc
}

func (i queueItem) FilterValue() string { return i.actionType }

// AppOption customizes App construction for tests.
type AppOption func(*App)

// WithClock overrides the approval timestamp source.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// App is the review console model. In bubbletea, this holds ALL the state.
type App struct {
	engine *engine.Engine
	actor  string
	clock  func() time.Time

	state       appState
	queue       list.Model
	items       []queueItem
	detail      *task.Document
	reasonInput textinput.Model

	statusMsg string
	width     int
	height    int
}

// NewApp builds the review console over a transition engine. Decisions are
// attributed to actor in both the document and the audit log.
func NewApp(eng *engine.Engine, actor string, opts ...AppOption) *App {
	queue := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	queue.Title = "⬡ PENDING APPROVAL"
	queue.SetShowStatusBar(false)
	queue.SetFilteringEnabled(false)

	reason := textinput.New()
	reason.Placeholder = "why this task is rejected"
	reason.CharLimit = 200

	a := &App{
		engine:      eng,
		actor:       actor,
		clock:       func() time.Time { return time.Now().UTC() },
		state:       stateQueue,
		queue:       queue,
		reasonInput: reason,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.fetchQueue()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.queue.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		return a, nil

	case refreshMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("refresh failed: %v", msg.err)
		} else {
			a.setItems(msg.items)
		}
		return a, a.scheduleRefresh()

	case decisionMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("decision on %s failed: %v", msg.name, msg.err)
		} else {
			a.statusMsg = fmt.Sprintf("%s %s", msg.name, msg.verdict)
		}
		a.state = stateQueue
		a.detail = nil
		return a, a.fetchQueue()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a.updateFocused(msg)
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if a.state == stateReject {
		switch key {
		case "esc":
			a.state = stateDetail
			a.reasonInput.Reset()
			return a, nil
		case "enter":
			return a, a.decideSelected(engine.TriggerReject, strings.TrimSpace(a.reasonInput.Value()))
		}
		var cmd tea.Cmd
		a.reasonInput, cmd = a.reasonInput.Update(msg)
		return a, cmd
	}

	switch key {
	case "ctrl+c", "q":
		return a, tea.Quit
	case "esc":
		if a.state == stateDetail {
			a.state = stateQueue
			a.detail = nil
		}
		return a, nil
	case "R":
		a.statusMsg = "refreshing..."
		return a, a.fetchQueue()
	case "enter":
		if a.state == stateQueue {
			return a, a.openSelected()
		}
	case "a":
		if item, ok := a.selectedItem(); ok {
			a.statusMsg = fmt.Sprintf("approving %s...", item.id)
			return a, a.decideSelected(engine.TriggerApprove, "")
		}
	case "r":
		if _, ok := a.selectedItem(); ok {
			a.state = stateReject
			a.reasonInput.Reset()
			a.reasonInput.Focus()
			return a, textinput.Blink
		}
	}

	return a.updateFocused(msg)
}

func (a *App) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	if a.state == stateQueue {
		var cmd tea.Cmd
		a.queue, cmd = a.queue.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) setItems(items []queueItem) {
	a.items = items
	listItems := make([]list.Item, len(items))
	for i := range items {
		listItems[i] = items[i]
	}
	a.queue.SetItems(listItems)
	if a.state == stateDetail && a.detail != nil {
		// The task under review may have been swept or decided elsewhere.
		if _, ok := a.itemByName(a.detail.Name); !ok {
			a.state = stateQueue
			a.detail = nil
			a.statusMsg = "task left the approval queue"
		}
	}
}

func (a *App) selectedItem() (queueItem, bool) {
	if a.state == stateDetail && a.detail != nil {
		return a.itemByName(a.detail.Name)
	}
	item, ok := a.queue.SelectedItem().(queueItem)
	return item, ok
}

func (a *App) itemByName(name string) (queueItem, bool) {
	for _, item := range a.items {
		if item.name == name {
			return item, true
		}
	}
	return queueItem{}, false
}

func (a *App) openSelected() tea.Cmd {
	item, ok := a.queue.SelectedItem().(queueItem)
	if !ok {
		return nil
	}
	doc, err := task.Load(a.engine.Store(), vault.PendingApproval, item.name)
	if err != nil {
		a.statusMsg = fmt.Sprintf("open %s: %v", item.name, err)
		return a.fetchQueue()
	}
	a.detail = doc
	a.state = stateDetail
	return nil
}

// decideSelected records the human verdict for the task under the cursor.
// Approval stamps the literal boolean and the approver so the downstream
// gate accepts it; rejection carries the typed reason.
func (a *App) decideSelected(trigger engine.Trigger, reason string) tea.Cmd {
	item, ok := a.selectedItem()
	if !ok {
		return nil
	}
	eng := a.engine
	actor := a.actor
	now := a.clock()
	return func() tea.Msg {
		doc, err := task.Load(eng.Store(), vault.PendingApproval, item.name)
		if err != nil {
			return decisionMsg{name: item.id, err: err}
		}
		var extra task.Patch
		verdict := "rejected"
		if trigger == engine.TriggerApprove {
			verdict = "approved"
			extra = task.Patch{
				"approved":      true,
				"approved_by":   actor,
				"approved_date": now.Format("2006-01-02"),
			}
		} else if reason != "" {
			extra = task.Patch{"reason": reason}
		}
		if err := eng.Apply(doc, trigger, extra); err != nil {
			return decisionMsg{name: item.id, err: err}
		}
		return decisionMsg{name: item.id, verdict: verdict}
	}
}

func (a *App) fetchQueue() tea.Cmd {
	eng := a.engine
	return func() tea.Msg {
		return buildQueueSnapshot(eng)
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	eng := a.engine
	return tea.Tick(queueRefreshInterval, func(time.Time) tea.Msg {
		return buildQueueSnapshot(eng)
	})
}

func buildQueueSnapshot(eng *engine.Engine) refreshMsg {
	entries, err := eng.Store().List(vault.PendingApproval)
	if err != nil {
		return refreshMsg{err: err}
	}
	items := make([]queueItem, 0, len(entries))
	for _, entry := range entries {
		doc, err := task.Load(eng.Store(), vault.PendingApproval, entry.Name)
		if err != nil {
			continue // raced with a worker or sweeper
		}
		items = append(items, queueItem{
			name:         doc.Name,
			id:           doc.Meta.ID,
			actionType:   doc.Meta.ActionType,
			counterparty: doc.Meta.Counterparty,
			amount:       doc.Meta.Amount,
			created:      doc.Meta.Created,
		})
	}
	return refreshMsg{items: items}
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#50C878")).
		MarginBottom(1).
		Render("⬡ GREENLIGHT REVIEW")

	var content string
	switch a.state {
	case stateQueue:
		content = a.renderQueue()
	case stateDetail:
		content = a.renderDetail(width - 8)
	case stateReject:
		content = a.renderRejectPrompt(width - 8)
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, width-2)).
		Render(content)

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	return strings.Join([]string{header, box, footer}, "\n")
}

func (a *App) renderQueue() string {
	view := a.queue.View()
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		MarginTop(1).
		Render("Enter → inspect    a → approve    r → reject    q → quit")
	return lipgloss.JoinVertical(lipgloss.Left, view, hint)
}

func (a *App) renderDetail(width int) string {
	doc := a.detail
	if doc == nil {
		return "No task selected"
	}
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("%s · %s", doc.Meta.ActionType, doc.Meta.ID))
	lines := []string{
		fmt.Sprintf("Source: %s", orNone(doc.Meta.Source)),
		fmt.Sprintf("Created: %s", doc.Meta.Created.Format(time.RFC3339)),
		fmt.Sprintf("Revision: %d", doc.Meta.Revision),
	}
	if doc.Meta.Counterparty != "" {
		lines = append(lines, fmt.Sprintf("Counterparty: %s", doc.Meta.Counterparty))
	}
	if doc.Meta.Amount != nil {
		lines = append(lines, fmt.Sprintf("Amount: $%v", doc.Meta.Amount))
	}
	body := strings.TrimSpace(string(doc.Body))
	if body == "" {
		body = "(empty body)"
	}
	bodyBox := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#CCCCCC")).
		Width(max(20, width)).
		Render(body)
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		MarginTop(1).
		Render("a → approve    r → reject    Esc → back")
	return lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), "", bodyBox, hint)
}

func (a *App) renderRejectPrompt(width int) string {
	item, _ := a.selectedItem()
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		Render(fmt.Sprintf("Reject %s", item.id))
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		MarginTop(1).
		Render("Enter → confirm rejection    Esc → cancel")
	return lipgloss.JoinVertical(lipgloss.Left, title, a.reasonInput.View(), hint)
}

func orNone(value string) string {
	if strings.TrimSpace(value) == "" {
		return "none"
	}
	return value
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
