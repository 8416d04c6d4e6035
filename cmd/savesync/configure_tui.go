package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/openmined/savesync/internal/settings"
	"github.com/openmined/savesync/internal/sshhosts"
)

type configureView int

const (
	hostPickView configureView = iota
	hostInputView
	pathInputView
)

const (
	txtHostPrompt     = "Select the remote host for %s"
	txtHostManual     = "Enter a host manually"
	txtHostInput      = "Enter the SSH host (alias or user@hostname)"
	txtPathPrompt     = "Enter the remote path on %s"
	txtPathHint       = "Absolute path, or ~/... relative to the remote home."
	txtHostRequired   = "Host is required"
	txtConfigureHelp  = "'Enter' to select. 'Esc' to go back. 'Ctrl+C' to quit."
	txtHostPickerHelp = "Up/Down to move. 'Enter' to select. 'Ctrl+C' to quit."
)

var errConfigureCancelled = errors.New("configure cancelled")

var (
	focusedStyle     = green
	helpStyle        = gray
	errorTextStyle   = red
	titleStyle       = cyan.Bold(true)
	placeholderStyle = gray
)

type ConfigureTUIOpts struct {
	Workspace  string
	Hosts      []sshhosts.Host
	Host       string
	RemotePath string
}

type configureModel struct {
	opts *ConfigureTUIOpts

	hostInput textinput.Model
	pathInput textinput.Model

	view         configureView
	cursor       int
	host         string
	errorMessage string

	submitted bool
	cancelled bool
}

func newConfigureModel(opts *ConfigureTUIOpts) configureModel {
	host := textinput.New()
	host.Placeholder = "devbox"
	host.CharLimit = 255
	host.Width = 48
	host.PromptStyle = focusedStyle
	host.TextStyle = focusedStyle
	host.PlaceholderStyle = placeholderStyle

	path := textinput.New()
	path.Placeholder = "/srv/project"
	path.CharLimit = 1024
	path.Width = 48
	path.PromptStyle = focusedStyle
	path.TextStyle = focusedStyle
	path.PlaceholderStyle = placeholderStyle
	path.SetValue(opts.RemotePath)

	m := configureModel{
		opts:      opts,
		hostInput: host,
		pathInput: path,
	}

	switch {
	case opts.Host != "":
		m.host = opts.Host
		m.view = pathInputView
		m.pathInput.Focus()
	case len(opts.Hosts) == 0:
		m.view = hostInputView
		m.hostInput.Focus()
	default:
		m.view = hostPickView
	}
	return m
}

func (m configureModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m configureModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.Type {
	case tea.KeyCtrlC:
		m.cancelled = true
		return m, tea.Quit
	case tea.KeyEsc:
		return m.back()
	case tea.KeyEnter:
		return m.submit()
	}

	var cmd tea.Cmd
	switch m.view {
	case hostPickView:
		switch key.String() {
		case "up", "k":
			m.cursor = max(m.cursor-1, 0)
		case "down", "j":
			m.cursor = min(m.cursor+1, len(m.opts.Hosts))
		}
	case hostInputView:
		m.errorMessage = ""
		m.hostInput, cmd = m.hostInput.Update(msg)
	case pathInputView:
		m.errorMessage = ""
		m.pathInput, cmd = m.pathInput.Update(msg)
	}
	return m, cmd
}

func (m configureModel) back() (tea.Model, tea.Cmd) {
	m.errorMessage = ""
	switch {
	case m.view == pathInputView && m.opts.Host == "":
		m.pathInput.Blur()
		if len(m.opts.Hosts) > 0 {
			m.view = hostPickView
			return m, nil
		}
		m.view = hostInputView
		m.hostInput.Focus()
		return m, textinput.Blink
	case m.view == hostInputView && len(m.opts.Hosts) > 0:
		m.hostInput.Blur()
		m.view = hostPickView
		return m, nil
	}

	m.cancelled = true
	return m, tea.Quit
}

func (m configureModel) submit() (tea.Model, tea.Cmd) {
	switch m.view {
	case hostPickView:
		if m.cursor < len(m.opts.Hosts) {
			return m.toPath(m.opts.Hosts[m.cursor].Name)
		}
		m.view = hostInputView
		m.hostInput.Focus()
		return m, textinput.Blink

	case hostInputView:
		host := strings.TrimSpace(m.hostInput.Value())
		if host == "" {
			m.errorMessage = txtHostRequired
			return m, nil
		}
		m.hostInput.Blur()
		return m.toPath(host)

	default:
		conn := m.connection()
		if err := conn.Validate(); err != nil {
			m.errorMessage = err.Error()
			return m, nil
		}
		m.submitted = true
		return m, tea.Quit
	}
}

func (m configureModel) toPath(host string) (tea.Model, tea.Cmd) {
	m.host = host
	m.view = pathInputView
	m.pathInput.Focus()
	return m, textinput.Blink
}

func (m configureModel) connection() settings.ConnectionConfig {
	return settings.ConnectionConfig{
		Host:       m.host,
		RemotePath: strings.TrimSpace(m.pathInput.Value()),
		Enabled:    true,
	}
}

func (m configureModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	switch m.view {
	case hostPickView:
		b.WriteString(titleStyle.Render(fmt.Sprintf(txtHostPrompt, m.opts.Workspace)) + "\n\n")
		for i, h := range m.opts.Hosts {
			b.WriteString(m.pickLine(i, h.Name, describeHost(h)))
		}
		b.WriteString(m.pickLine(len(m.opts.Hosts), txtHostManual, ""))
		b.WriteString("\n" + helpStyle.Render(txtHostPickerHelp) + "\n")
		return b.String()

	case hostInputView:
		b.WriteString(titleStyle.Render(txtHostInput) + "\n\n")
		b.WriteString(m.hostInput.View() + "\n")

	case pathInputView:
		b.WriteString(titleStyle.Render(fmt.Sprintf(txtPathPrompt, m.host)) + "\n")
		b.WriteString(helpStyle.Render(txtPathHint) + "\n\n")
		b.WriteString(m.pathInput.View() + "\n")
	}

	if m.errorMessage != "" {
		b.WriteString("\n" + errorTextStyle.Render(m.errorMessage) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(txtConfigureHelp) + "\n")
	return b.String()
}

func (m configureModel) pickLine(i int, label, detail string) string {
	cursor := "  "
	style := lightGray
	if i == m.cursor {
		cursor = "> "
		style = focusedStyle
	}
	line := cursor + style.Render(label)
	if detail != "" {
		line += " " + helpStyle.Render(detail)
	}
	return line + "\n"
}

// describeHost renders user@hostname:port, leaving out what is unset.
func describeHost(h sshhosts.Host) string {
	s := h.HostName
	if h.User != "" {
		s = h.User + "@" + s
	}
	if h.Port != "" && h.Port != "22" {
		s += ":" + h.Port
	}
	return s
}

// runConfigureTUI asks for whatever part of the connection is missing.
func runConfigureTUI(opts *ConfigureTUIOpts, in io.Reader, out io.Writer) (settings.ConnectionConfig, error) {
	p := tea.NewProgram(newConfigureModel(opts), tea.WithInput(in), tea.WithOutput(out))
	final, err := p.Run()
	if err != nil {
		return settings.ConnectionConfig{}, fmt.Errorf("configure prompt: %w", err)
	}

	m, ok := final.(configureModel)
	if !ok || !m.submitted {
		return settings.ConnectionConfig{}, errConfigureCancelled
	}
	return m.connection(), nil
}
