package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"simpin/internal/rules"
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(" simpin — process CPU pinning "))
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")

	switch m.step {
	case stepRules:
		b.WriteString(m.renderRules())
	case stepName:
		b.WriteString(m.renderNameInput())
	case stepCPUs:
		b.WriteString(m.renderCPUGrid())
	case stepSaved:
		b.WriteString(dimStyle.Render("Saving..."))
	case stepError:
		b.WriteString(errorBoxStyle.Render(fmt.Sprintf("✗ Error: %v", m.err)))
	}

	b.WriteString("\n\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m Model) renderStatus() string {
	h := m.status
	interval := m.watch.Interval()

	var state string
	switch {
	case h.Stale(interval):
		state = staleStyle.Render("● worker stale")
	case !h.Synced:
		state = unsyncedStyle.Render("● not synced")
	default:
		state = syncedStyle.Render("● synced")
	}

	var detail string
	if h.At.IsZero() {
		detail = dimStyle.Render("waiting for first cycle")
	} else {
		detail = dimStyle.Render(fmt.Sprintf("%d pinned, checked %s ago",
			h.Matched, time.Since(h.At).Round(time.Second)))
	}
	line := fmt.Sprintf("%s  %s", state, detail)
	if h.Err != "" {
		line += "\n" + unsyncedStyle.Render("  "+h.Err)
	}
	return line
}

func (m Model) renderRules() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Rules"))
	b.WriteString("\n\n")

	if len(m.rules) == 0 {
		b.WriteString(dimStyle.Render("  No rules yet.\n"))
	}
	for i, rule := range m.rules {
		cursor := "  "
		if m.cursor == i {
			cursor = cursorStyle.Render("> ")
		}
		b.WriteString(fmt.Sprintf("%s%-30s %s\n",
			cursor, rule.Name, maskStyle.Render("CPUs: "+rule.Mask.String())))
	}

	cursor := "  "
	if m.cursor == len(m.rules) {
		cursor = cursorStyle.Render("> ")
	}
	b.WriteString(fmt.Sprintf("%s%s\n", cursor, dimStyle.Render("+ add rule")))

	return b.String()
}

func (m Model) renderNameInput() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("Process name"))
	b.WriteString("\n\n  ")
	b.WriteString(m.nameInput.View())
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("  Matched exactly against executable names from the process table."))
	return b.String()
}

const cpusPerRow = 8

func (m Model) renderCPUGrid() string {
	var b strings.Builder
	b.WriteString(subtitleStyle.Render("CPUs for " + m.nameInput.Value()))
	b.WriteString("\n\n")

	for i, cpu := range m.cpus {
		mark := cpuOffStyle.Render("○")
		label := fmt.Sprintf("%2d", cpu)
		if m.selected[i] {
			mark = cpuOnStyle.Render("●")
			label = cpuOnStyle.Render(label)
		} else {
			label = cpuOffStyle.Render(label)
		}
		cell := fmt.Sprintf("%s %s", mark, label)
		if m.cursor == i {
			cell = cursorStyle.Render("[") + cell + cursorStyle.Render("]")
		} else {
			cell = " " + cell + " "
		}
		b.WriteString("  " + cell)
		if (i+1)%cpusPerRow == 0 {
			b.WriteString("\n")
		}
	}
	if len(m.cpus)%cpusPerRow != 0 {
		b.WriteString("\n")
	}

	count := 0
	for _, on := range m.selected {
		if on {
			count++
		}
	}
	b.WriteString("\n")
	if count == 0 {
		b.WriteString(dimStyle.Render("  Select at least one CPU."))
	} else {
		b.WriteString(fmt.Sprintf("  %s %d of %d", dimStyle.Render("selected:"), count, len(m.cpus)))
	}
	return b.String()
}

func (m Model) renderHelp() string {
	var parts []string
	add := func(key, action string) {
		parts = append(parts, keyStyle.Render(key)+dimStyle.Render(" "+action))
	}

	switch m.step {
	case stepRules:
		add("↑/↓", "navigate")
		add("enter", "edit")
		add("d", "delete")
	case stepName:
		add("enter", "next")
		add("esc", "back")
	case stepCPUs:
		add("←/→/↑/↓", "navigate")
		add("space", "toggle")
		add("a/n", "all/none")
		add("enter", "save")
		add("esc", "back")
	default:
		add("enter", "continue")
	}
	add("q", "quit")

	return strings.Join(parts, dimStyle.Render(" • "))
}

// PrintRules writes the stored rules to stdout, for the -list flag.
func PrintRules(list []rules.Rule) {
	fmt.Println(subtitleStyle.Render("Stored rules"))
	fmt.Println()

	if len(list) == 0 {
		fmt.Println(dimStyle.Render("  No rules configured"))
		return
	}
	for _, rule := range list {
		fmt.Printf("  %-30s %s\n", rule.Name, maskStyle.Render("CPUs: "+rule.Mask.String()))
	}
	fmt.Println()
}

// PrintSuccess reports a completed one-shot operation.
func PrintSuccess(message string) {
	fmt.Println()
	fmt.Println(boxStyle.Render("✓ " + message))
	fmt.Println()
}

func PrintError(err error) {
	content := fmt.Sprintf("✗ Error: %v", err)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, errorBoxStyle.Render(content))
	fmt.Fprintln(os.Stderr)
}
