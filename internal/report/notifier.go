package report

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	choiceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// ConsoleNotifier prints notices to a terminal and reads answers from it.
// When not interactive, Ask prints the notice and answers ActionIgnore.
type ConsoleNotifier struct {
	out         io.Writer
	in          *bufio.Reader
	interactive bool
}

// NewConsoleNotifier uses stdout/stdin and prompts only if stdin is a terminal.
func NewConsoleNotifier() *ConsoleNotifier {
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	return NewConsoleNotifierIO(os.Stdout, os.Stdin, interactive)
}

func NewConsoleNotifierIO(out io.Writer, in io.Reader, interactive bool) *ConsoleNotifier {
	return &ConsoleNotifier{out: out, in: bufio.NewReader(in), interactive: interactive}
}

func (n *ConsoleNotifier) Info(msg string) {
	fmt.Fprintln(n.out, infoStyle.Render(msg))
}

func (n *ConsoleNotifier) Warn(msg string) {
	fmt.Fprintln(n.out, warnStyle.Render(msg))
}

func (n *ConsoleNotifier) Ask(msg string, choices []Action) Action {
	fmt.Fprintln(n.out, errorStyle.Render(msg))
	if !n.interactive || len(choices) == 0 {
		return ActionIgnore
	}

	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = fmt.Sprintf("[%s]%s", string(c)[:1], string(c)[1:])
	}
	fmt.Fprint(n.out, choiceStyle.Render(strings.Join(labels, " "))+": ")

	line, err := n.in.ReadString('\n')
	if err != nil && line == "" {
		return ActionIgnore
	}
	return parseChoice(strings.TrimSpace(line), choices)
}

func parseChoice(answer string, choices []Action) Action {
	answer = strings.ToLower(answer)
	if answer == "" {
		return ActionIgnore
	}
	for _, c := range choices {
		if answer == string(c) || answer == string(c)[:1] {
			return c
		}
	}
	return ActionIgnore
}

// LogNotifier sends notices to slog. It never prompts.
type LogNotifier struct{}

func (LogNotifier) Info(msg string) {
	slog.Info(msg)
}

func (LogNotifier) Warn(msg string) {
	slog.Warn(msg)
}

func (LogNotifier) Ask(msg string, choices []Action) Action {
	slog.Error(msg)
	return ActionIgnore
}
