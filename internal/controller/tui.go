package controller

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

const maxHistory = 15

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	hitStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	missStyle  = lipgloss.NewStyle().Faint(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

// ResolveFunc looks up one address.
type ResolveFunc func(ctx context.Context, addr uint64) m.Resolution

// InspectTUI is an interactive prompt that resolves addresses as they are typed.
type InspectTUI struct {
	input  io.Reader
	output io.Writer
}

// NewInspectTUI creates a new InspectTUI.
func NewInspectTUI(input io.Reader, output io.Writer) *InspectTUI {
	return &InspectTUI{input: input, output: output}
}

// Run blocks until the user quits or ctx is done.
func (t *InspectTUI) Run(ctx context.Context, pid int, resolve ResolveFunc) error {
	model := newInspectModel(ctx, pid, resolve)

	program := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(t.input),
		tea.WithOutput(t.output),
	)

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run inspect ui: %w", err)
	}

	return nil
}

type inspectModel struct {
	ctx      context.Context
	pid      int
	resolve  ResolveFunc
	input    textinput.Model
	history  []m.Resolution
	err      string
	quitting bool
}

func newInspectModel(ctx context.Context, pid int, resolve ResolveFunc) inspectModel {
	input := textinput.New()
	input.Placeholder = "7FF6A0001000"
	input.Prompt = "address> "
	input.CharLimit = 18
	input.Width = 20
	input.Focus()

	return inspectModel{
		ctx:     ctx,
		pid:     pid,
		resolve: resolve,
		input:   input,
	}
}

func (im inspectModel) Init() tea.Cmd {
	return textinput.Blink
}

func (im inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		//nolint:exhaustive // Only a few keys are handled, the rest go to the input.
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			im.quitting = true
			return im, tea.Quit
		case tea.KeyEnter:
			return im.submit(), nil
		}
	}

	var cmd tea.Cmd
	im.input, cmd = im.input.Update(msg)

	return im, cmd
}

func (im inspectModel) submit() inspectModel {
	value := strings.TrimSpace(im.input.Value())
	im.input.SetValue("")

	if value == "" {
		return im
	}

	addr, err := ParseAddress(value)
	if err != nil {
		im.err = err.Error()
		return im
	}

	im.err = ""
	im.history = append([]m.Resolution{im.resolve(im.ctx, addr)}, im.history...)

	if len(im.history) > maxHistory {
		im.history = im.history[:maxHistory]
	}

	return im
}

func (im inspectModel) View() string {
	if im.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("mixedstack inspect - process %d", im.pid)))
	b.WriteString("\n\n")
	b.WriteString(im.input.View())
	b.WriteString("\n")

	if im.err != "" {
		b.WriteString(errStyle.Render(im.err))
		b.WriteString("\n")
	}

	b.WriteString("\n")

	for _, r := range im.history {
		if r.Found {
			b.WriteString(hitStyle.Render(fmt.Sprintf("%16s  %s", FormatAddress(r.Address), r.Name)))
		} else {
			b.WriteString(missStyle.Render(fmt.Sprintf("%16s  %s", FormatAddress(r.Address), unknownSymbolLabel)))
		}

		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("\nenter: resolve  esc: quit"))
	b.WriteString("\n")

	return b.String()
}

// ParseAddress parses a hexadecimal address with an optional 0x prefix.
func ParseAddress(value string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")

	addr, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", value)
	}

	return addr, nil
}
