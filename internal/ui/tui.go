package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"simpin/internal/affinity"
	"simpin/internal/rules"
	"simpin/internal/watcher"
)

type step int

const (
	stepRules step = iota
	stepName
	stepCPUs
	stepSaved
	stepError
)

const statusRefresh = time.Second

type Model struct {
	store *rules.Store
	watch *watcher.Watcher
	cpus  []int

	step      step
	rules     []rules.Rule
	cursor    int
	nameInput textinput.Model
	selected  []bool // parallel to cpus
	editing   string // rule name under edit, "" while adding a new one
	status    watcher.Heartbeat
	err       error
	width     int
	height    int
}

func NewModel(store *rules.Store, watch *watcher.Watcher, cpus []int) Model {
	ti := textinput.New()
	ti.Placeholder = "process name, e.g. iRacingSim64DX11.exe"
	ti.CharLimit = 128
	ti.Width = 40
	ti.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#c0caf5"))
	ti.PromptStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(primaryColor)

	return Model{
		store:     store,
		watch:     watch,
		cpus:      cpus,
		step:      stepRules,
		nameInput: ti,
		selected:  make([]bool, len(cpus)),
		width:     80,
		height:    24,
	}
}

// Run drives the configuration TUI until the user quits. The watcher keeps
// running in the background; its heartbeat is polled once a second.
func Run(store *rules.Store, watch *watcher.Watcher, cpus []int) error {
	p := tea.NewProgram(NewModel(store, watch, cpus), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type tickMsg time.Time

type rulesLoadedMsg struct {
	rules []rules.Rule
	err   error
}

type savedMsg struct {
	err error
}

func tick() tea.Cmd {
	return tea.Tick(statusRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) loadRules() tea.Cmd {
	return func() tea.Msg {
		list, err := m.store.ListRules(context.Background())
		return rulesLoadedMsg{rules: list, err: err}
	}
}

func (m Model) saveRule(name string, mask affinity.Mask) tea.Cmd {
	return func() tea.Msg {
		return savedMsg{err: m.store.SaveRule(context.Background(), name, mask)}
	}
}

func (m Model) deleteRule(name string) tea.Cmd {
	return func() tea.Msg {
		return savedMsg{err: m.store.DeleteRule(context.Background(), name)}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadRules(), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.status = m.watch.Status()
		return m, tick()

	case rulesLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.step = stepError
			return m, nil
		}
		m.rules = msg.rules
		if m.cursor > len(m.rules) {
			m.cursor = len(m.rules)
		}
		return m, nil

	case savedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.step = stepError
			return m, nil
		}
		m.step = stepRules
		return m, m.loadRules()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.step == stepName {
		var cmd tea.Cmd
		m.nameInput, cmd = m.nameInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if key == "q" && m.step != stepName {
		return m, tea.Quit
	}

	switch key {
	case "up", "k":
		if m.step != stepName {
			m = m.moveCursor(-1)
		}
	case "down", "j":
		if m.step != stepName {
			m = m.moveCursor(1)
		}
	case "left", "h":
		if m.step == stepCPUs {
			m = m.moveCursor(-1)
		}
	case "right", "l":
		if m.step == stepCPUs {
			m = m.moveCursor(1)
		}

	case " ":
		if m.step == stepCPUs && m.cursor < len(m.selected) {
			m.selected[m.cursor] = !m.selected[m.cursor]
		}

	case "d":
		if m.step == stepRules && m.cursor < len(m.rules) {
			return m, m.deleteRule(m.rules[m.cursor].Name)
		}

	case "a":
		if m.step == stepCPUs {
			for i := range m.selected {
				m.selected[i] = true
			}
		}

	case "n":
		if m.step == stepCPUs {
			for i := range m.selected {
				m.selected[i] = false
			}
		}

	case "enter":
		return m.handleEnter()

	case "esc":
		switch m.step {
		case stepName, stepSaved, stepError:
			m.step = stepRules
		case stepCPUs:
			m.step = stepName
			m.nameInput.Focus()
			return m, textinput.Blink
		}
		return m, nil
	}

	if m.step == stepName {
		var cmd tea.Cmd
		m.nameInput, cmd = m.nameInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) moveCursor(delta int) Model {
	switch m.step {
	case stepRules:
		// The last entry is the "add new rule" row.
		limit := len(m.rules) + 1
		m.cursor = (m.cursor + delta + limit) % limit
	case stepCPUs:
		limit := len(m.cpus)
		if limit > 0 {
			m.cursor = (m.cursor + delta + limit) % limit
		}
	}
	return m
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.step {
	case stepRules:
		if m.cursor < len(m.rules) {
			rule := m.rules[m.cursor]
			m.editing = rule.Name
			m.nameInput.SetValue(rule.Name)
			m.selected = make([]bool, len(m.cpus))
			for i, cpu := range m.cpus {
				m.selected[i] = rule.Mask.Contains(cpu)
			}
		} else {
			m.editing = ""
			m.nameInput.SetValue("")
			m.selected = make([]bool, len(m.cpus))
		}
		m.step = stepName
		m.nameInput.Focus()
		return m, textinput.Blink

	case stepName:
		if m.nameInput.Value() == "" {
			return m, nil
		}
		m.nameInput.Blur()
		m.cursor = 0
		m.step = stepCPUs
		return m, nil

	case stepCPUs:
		var picked []int
		for i, on := range m.selected {
			if on {
				picked = append(picked, m.cpus[i])
			}
		}
		mask, err := affinity.NewMask(picked)
		if err != nil {
			// Zero CPUs selected; stay on the grid.
			return m, nil
		}
		name := m.nameInput.Value()
		cmds := []tea.Cmd{m.saveRule(name, mask)}
		if m.editing != "" && m.editing != name {
			// Renamed: drop the rule stored under the old name.
			cmds = append(cmds, m.deleteRule(m.editing))
		}
		m.step = stepSaved
		return m, tea.Batch(cmds...)

	case stepSaved, stepError:
		m.step = stepRules
		return m, nil
	}
	return m, nil
}
