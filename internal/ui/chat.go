package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/session"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxScrollback = 500
	eventBuffer   = 1024
	submitTimeout = 2 * time.Minute
)

var avatars = []string{"👤", "😀", "😎", "🤖", "👨", "👩", "🧑", "🎮", "🚀", "⭐"}

// Avatar picks a stable emoji for a name from its first character.
func Avatar(name string) string {
	for _, r := range name {
		return avatars[int(r)%len(avatars)]
	}
	return avatars[0]
}

// Actions is what the chat screen asks of the session.
type Actions interface {
	SendText(text string) error
	SubmitManualCode(ctx context.Context, token string) error
	Info(ctx context.Context) (session.Info, error)
}

type ChatOptions struct {
	Title string
	Self  string

	// ShowOfferTokens prints every new offer token in the scrollback.
	// Without it only the first one is printed.
	ShowOfferTokens bool
}

// Events from the session, queued until the model picks them up.
type (
	messageEvent  chat.Message
	noticeEvent   string
	presenceEvent int
	tokenEvent    struct {
		kind  record.Type
		token string
	}
	errorEvent struct {
		err   error
		fatal bool
	}
)

// Chat is the interactive chat screen. It implements session.UI; its
// methods may be called before Run starts.
type Chat struct {
	events  chan tea.Msg
	done    chan struct{}
	model   *chatModel
	program *tea.Program
}

func NewChat(opts ChatOptions) *Chat {
	events := make(chan tea.Msg, eventBuffer)
	return &Chat{
		events: events,
		done:   make(chan struct{}),
		model:  newChatModel(opts, events),
	}
}

// Run shows the chat screen until the user quits or Fail is called. The
// returned error is the one passed to Fail, if any.
func (c *Chat) Run(actions Actions) error {
	defer close(c.done)
	c.model.actions = actions
	c.program = tea.NewProgram(c.model, tea.WithAltScreen())
	if _, err := c.program.Run(); err != nil {
		return err
	}
	return c.model.fatal
}

// SetTitle changes the header text. Call it before Run.
func (c *Chat) SetTitle(title string) {
	c.model.opts.Title = title
}

// Fail ends the chat screen with err.
func (c *Chat) Fail(err error) {
	c.push(errorEvent{err: err, fatal: true})
}

// Notice shows a system line.
func (c *Chat) Notice(text string) {
	c.push(noticeEvent(text))
}

func (c *Chat) OnMessageReceived(msg chat.Message) { c.push(messageEvent(msg)) }
func (c *Chat) OnSystemNotice(text string)         { c.push(noticeEvent(text)) }
func (c *Chat) OnPresenceChanged(count int)        { c.push(presenceEvent(count)) }

func (c *Chat) OnToken(t record.Type, token string) {
	c.push(tokenEvent{kind: t, token: token})
}

func (c *Chat) push(msg tea.Msg) {
	select {
	case c.events <- msg:
	case <-c.done:
	}
}

type chatModel struct {
	opts    ChatOptions
	actions Actions
	events  <-chan tea.Msg

	input   textinput.Model
	lines   []string
	count   int
	tokens  map[record.Type]string
	offers  int
	width   int
	height  int
	fatal   error
	leaving bool
}

func newChatModel(opts ChatOptions, events <-chan tea.Msg) *chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.Prompt = IconChat + " "
	ti.CharLimit = 2000
	ti.Focus()

	return &chatModel{
		opts:   opts,
		events: events,
		input:  ti,
		count:  1,
		tokens: make(map[record.Type]string),
		width:  80,
		height: 24,
	}
}

func (m *chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

func (m *chatModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.leaving = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			return m, m.submit(line)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(10, msg.Width-4)
		return m, nil

	case messageEvent:
		m.appendMessage(chat.Message(msg))
		return m, m.listen()

	case noticeEvent:
		m.appendNotice(string(msg))
		return m, m.listen()

	case presenceEvent:
		m.count = int(msg)
		return m, m.listen()

	case tokenEvent:
		m.appendToken(msg.kind, msg.token)
		return m, m.listen()

	case errorEvent:
		if msg.fatal {
			m.fatal = msg.err
			m.leaving = true
			return m, tea.Quit
		}
		m.appendError(msg.err)
		return m, m.listen()

	case rosterEvent:
		m.append(RosterView(m.opts.Self, msg))
		return m, nil

	case commandResult:
		if msg.err != nil {
			m.appendError(msg.err)
		} else {
			m.appendNotice(msg.notice)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Results of commands run in the background. Unlike session events they
// do not re-arm the listener.
type (
	rosterEvent   []string
	commandResult struct {
		notice string
		err    error
	}
)

// submit handles one line of input. Chat text is sent synchronously so
// messages leave in the order they were typed.
func (m *chatModel) submit(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if m.actions == nil {
			return nil
		}
		if err := m.actions.SendText(line); err != nil {
			m.appendError(err)
		}
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		m.leaving = true
		return tea.Quit

	case "/help":
		m.appendNotice("/code <token>  submit a token from another participant")
		m.appendNotice("/token         show the tokens to share")
		m.appendNotice("/who           list participants")
		m.appendNotice("/quit          leave the chat")

	case "/token":
		if len(m.tokens) == 0 {
			m.appendNotice("No tokens to share")
		}
		for _, t := range []record.Type{record.TypeOffer, record.TypeAnswer, record.TypeRequest} {
			if tok, ok := m.tokens[t]; ok {
				m.append(tokenLine(t, tok))
			}
		}

	case "/who":
		actions := m.actions
		if actions == nil {
			return nil
		}
		return func() tea.Msg {
			info, err := actions.Info(context.Background())
			if err != nil {
				return commandResult{err: err}
			}
			return rosterEvent(info.Members)
		}

	case "/code":
		if arg == "" {
			m.appendNotice("Usage: /code <token>")
			return nil
		}
		actions := m.actions
		if actions == nil {
			return nil
		}
		m.appendNotice(IconWaiting + " Applying token...")
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
			defer cancel()
			if err := actions.SubmitManualCode(ctx, arg); err != nil {
				return commandResult{err: err}
			}
			return commandResult{notice: "Token accepted"}
		}

	default:
		m.appendError(fmt.Errorf("unknown command %s (try /help)", cmd))
	}
	return nil
}

func (m *chatModel) appendMessage(msg chat.Message) {
	name := PeerNameStyle.Render(msg.Author)
	if msg.Author == m.opts.Self {
		name = SelfNameStyle.Render(msg.Author)
	}
	m.append(fmt.Sprintf("%s %s %s  %s",
		TimeStyle.Render(msg.SentAt.Format("15:04")),
		Avatar(msg.Author),
		name,
		msg.Text,
	))
}

func (m *chatModel) appendNotice(text string) {
	m.append(NoticeStyle.Render("• " + text))
}

func (m *chatModel) appendError(err error) {
	m.append(ErrorStyle.Render(IconError + " " + err.Error()))
}

func (m *chatModel) appendToken(t record.Type, token string) {
	m.tokens[t] = token
	if t == record.TypeOffer {
		m.offers++
		if m.offers > 1 && !m.opts.ShowOfferTokens {
			return
		}
	}
	m.append(tokenLine(t, token))
}

func tokenLine(t record.Type, token string) string {
	var label string
	switch t {
	case record.TypeOffer:
		label = "Offer token, give it to the person joining:"
	case record.TypeAnswer:
		label = "Answer token, give it to the room creator:"
	case record.TypeRequest:
		label = "Join request token, give it to the room creator:"
	}
	return fmt.Sprintf("%s %s\n%s", IconKey, BoldStyle.Render(label), TokenStyle.Render(token))
}

func (m *chatModel) append(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxScrollback {
		m.lines = m.lines[len(m.lines)-maxScrollback:]
	}
}

func (m *chatModel) View() string {
	if m.leaving {
		return ""
	}

	header := HeaderStyle.Render(fmt.Sprintf("%s %s   %s %d online", IconRoom, m.opts.Title, IconPeople, m.count))
	footer := FooterStyle.Render("/code <token> · /token · /who · /quit")
	input := m.input.View()

	avail := m.height - lipgloss.Height(header) - lipgloss.Height(footer) - lipgloss.Height(input) - 1
	body := m.scrollback(max(1, avail))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, input, footer)
}

// scrollback renders the newest lines that fit in height rows.
func (m *chatModel) scrollback(height int) string {
	wrap := lipgloss.NewStyle().Width(max(10, m.width))
	var rows []string
	for i := len(m.lines) - 1; i >= 0 && len(rows) < height; i-- {
		block := strings.Split(wrap.Render(m.lines[i]), "\n")
		rows = append(block, rows...)
	}
	if len(rows) > height {
		rows = rows[len(rows)-height:]
	}
	for len(rows) < height {
		rows = append([]string{""}, rows...)
	}
	return strings.Join(rows, "\n")
}
