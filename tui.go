package main

import (
	"strings"
	"sync"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"prompter/log"
)

// copiedMsg clears the "[copied]" indicator after the clipboard write.
type copiedMsg struct{ ok bool }

type tuiModel struct {
	width, height int

	question string
	answer   string
	status   string
	copied   bool

	onAnswer  func()
	onCapture func()
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	copiedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func NewTUIProgram(onAnswer, onCapture func()) *tea.Program {
	m := tuiModel{
		status:    "listening",
		onAnswer:  onAnswer,
		onCapture: onCapture,
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func (m tuiModel) Init() tea.Cmd {
	return nil
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
		case "a":
			if m.onAnswer != nil {
				m.onAnswer()
			}
		case "c":
			if m.onCapture != nil {
				m.onCapture()
			}
		case "y":
			if m.answer != "" {
				answer := m.answer
				return m, func() tea.Msg {
					if err := clipboard.WriteAll(answer); err != nil {
						log.Errorf("clipboard copy failed: %v", err)
						return copiedMsg{ok: false}
					}
					return copiedMsg{ok: true}
				}
			}
		}

	case copiedMsg:
		m.copied = msg.ok

	case RenderCmd:
		switch msg.Slot {
		case SlotQuestion:
			m.question = msg.Text
		case SlotAnswer:
			m.answer = msg.Text
			m.copied = false
		case SlotStatus:
			m.status = msg.Text
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	wrapWidth := m.width - 2
	if wrapWidth < 20 {
		wrapWidth = 20
	}

	var b strings.Builder

	style := statusStyle
	if strings.Contains(m.status, "error") {
		style = errorStyle
	}
	b.WriteString(style.Render("● "+m.status) + "\n\n")

	b.WriteString(titleStyle.Render("Question") + "\n")
	question := m.question
	if question == "" {
		question = "(waiting for a question)"
	}
	for _, line := range wrapText(question, wrapWidth) {
		b.WriteString(questionStyle.Render(line) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(titleStyle.Render("Answer") + "\n")
	if m.answer != "" {
		lines := wrapText(m.answer, wrapWidth)
		for i, line := range lines {
			b.WriteString(answerStyle.Render(line))
			if i == len(lines)-1 && m.copied {
				b.WriteString(" " + copiedStyle.Render("[copied]"))
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString(statusStyle.Render("(no answer yet)") + "\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("a answer · c capture screen · y copy · q quit") + "\n")
	b.WriteString(helpStyle.Render("Ctrl+Shift+Space answer · Ctrl+Shift+S capture") + "\n")

	return lipgloss.NewStyle().Padding(1).Width(m.width).Render(b.String())
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
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
