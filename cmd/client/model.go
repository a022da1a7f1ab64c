package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/Jason198341/seatcon-sub001/internal/chatsync"
	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/offline"
)

const (
	refreshInterval = 300 * time.Millisecond
	requestTimeout  = 15 * time.Second
)

// chatClient is the part of the coordinator the view drives.
type chatClient interface {
	Enter(ctx context.Context, roomID string) error
	LoadOlder(ctx context.Context) (bool, error)
	Send(ctx context.Context, text string, opts chatsync.SendOptions) (message.Message, error)
	ToggleLike(ctx context.Context, id message.ID) (bool, error)
	SetOnline(ctx context.Context, online bool) error
	Retry(ctx context.Context) (offline.FlushResult, error)
	Discard(ctx context.Context, id message.ID) error
	SetPreferredLanguage(ctx context.Context, lang string) error
	PreferredLanguage() string
	Snapshot() []message.Message
	Announcement() (message.Message, bool)
	Online() bool
	RoomID() string
	QueueLen() int
}

type chatModel struct {
	client   chatClient
	userID   string
	userName string
	initRoom string

	viewport viewport.Model
	input    textinput.Model
	visible  []message.Message
	busy     bool
	info     string
	errMsg   string
	width    int
	height   int
}

type tickMsg time.Time

// resultMsg reports the outcome of a command run off the update loop.
type resultMsg struct {
	info string
	err  error
}

func newChatModel(client chatClient, userID, userName, initRoom string, width, height int) chatModel {
	input := textinput.New()
	input.Placeholder = "type a message or /help"
	input.CharLimit = 4096
	input.Width = clampMin(width-8, 20)
	input.Focus()

	return chatModel{
		client:   client,
		userID:   userID,
		userName: userName,
		initRoom: strings.TrimSpace(initRoom),
		viewport: viewport.New(clampMin(width-4, 10), clampMin(height-8, 1)),
		input:    input,
		width:    width,
		height:   height,
	}
}

func (m chatModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, tick()}
	if m.initRoom != "" {
		cmds = append(cmds, m.run(command{kind: cmdJoin, arg: m.initRoom}))
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			return m, tea.Quit
		case "enter":
			return m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tickMsg:
		m.refreshViewport()
		return m, tick()

	case resultMsg:
		m.busy = false
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			m.info = ""
		} else {
			m.errMsg = ""
			m.info = msg.info
		}
		m.refreshViewport()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	cmd, err := parseCommand(line)
	if err != nil {
		m.errMsg = err.Error()
		return m, nil
	}
	m.input.Reset()
	switch cmd.kind {
	case cmdQuit:
		return m, tea.Quit
	case cmdHelp:
		m.errMsg = ""
		m.info = helpText
		return m, nil
	}
	// Indexes resolve against what the user is looking at now.
	if cmd.index > 0 && cmd.index > len(m.visible) {
		m.errMsg = fmt.Sprintf("no message #%d", cmd.index)
		return m, nil
	}
	if cmd.kind != cmdSay && cmd.kind != cmdReply {
		m.busy = true
	}
	return m, m.run(cmd)
}

// run executes cmd against the coordinator in a tea.Cmd so slow network
// calls never block rendering.
func (m chatModel) run(cmd command) tea.Cmd {
	client := m.client
	var target message.Message
	if cmd.index > 0 && cmd.index <= len(m.visible) {
		target = m.visible[cmd.index-1]
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		info, err := execute(ctx, client, cmd, target)
		return resultMsg{info: info, err: err}
	}
}

func execute(ctx context.Context, client chatClient, cmd command, target message.Message) (string, error) {
	switch cmd.kind {
	case cmdSay, cmdReply:
		sent, err := client.Send(ctx, cmd.text, chatsync.SendOptions{ReplyTo: target.ID})
		if err != nil {
			return "", err
		}
		if sent.Delivery == message.DeliveryPending {
			return "queued until the connection is back", nil
		}
		return "", nil

	case cmdJoin:
		if err := client.Enter(ctx, cmd.arg); err != nil {
			return "", fmt.Errorf("join %s: %w", cmd.arg, err)
		}
		return "joined " + cmd.arg, nil

	case cmdOlder:
		more, err := client.LoadOlder(ctx)
		if err != nil {
			return "", err
		}
		if !more {
			return "reached the beginning of the room", nil
		}
		return "loaded older messages", nil

	case cmdLang:
		if err := client.SetPreferredLanguage(ctx, cmd.arg); err != nil {
			return "", fmt.Errorf("set language: %w", err)
		}
		return "translating into " + client.PreferredLanguage(), nil

	case cmdLike:
		liked, err := client.ToggleLike(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if liked {
			return "liked", nil
		}
		return "unliked", nil

	case cmdRetry:
		res, err := client.Retry(ctx)
		if err != nil {
			return "", fmt.Errorf("retry: %w", err)
		}
		if res.Skipped {
			return "a retry is already running", nil
		}
		return fmt.Sprintf("delivered %d, %d waiting", len(res.Confirmed), res.Remaining), nil

	case cmdOffline:
		if err := client.SetOnline(ctx, false); err != nil {
			return "", err
		}
		return "offline: messages will be queued", nil

	case cmdOnline:
		if err := client.SetOnline(ctx, true); err != nil {
			return "", err
		}
		return "back online", nil

	case cmdDiscard:
		if target.Identity() != message.Provisional {
			return "", errors.New("only unsent messages can be discarded")
		}
		if err := client.Discard(ctx, target.ID); err != nil {
			return "", err
		}
		return "discarded", nil
	}
	return "", fmt.Errorf("unsupported command %d", cmd.kind)
}

func (m *chatModel) updateLayout() {
	m.viewport.Width = clampMin(m.width-4, 10)
	m.viewport.Height = clampMin(m.height-8, 1)
	m.input.Width = clampMin(m.width-8, 20)
}

func (m *chatModel) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.visible = m.client.Snapshot()
	m.viewport.SetContent(m.renderMessages())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *chatModel) renderMessages() string {
	if m.client.RoomID() == "" {
		return labelStyle.Render("  No room selected. Use /join <room>.")
	}
	if len(m.visible) == 0 {
		return labelStyle.Render("  No messages yet. Send one to start chatting!")
	}

	var b strings.Builder
	for i, msg := range m.visible {
		for _, line := range m.formatMessage(i+1, msg) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *chatModel) formatMessage(n int, msg message.Message) []string {
	sender := msg.AuthorName
	if sender == "" {
		sender = msg.AuthorID
	}
	if msg.Role != "" && msg.Role != message.RoleAttendee {
		sender += " (" + msg.Role + ")"
	}
	prefix := fmt.Sprintf("  %3d %s %s: ", n, msg.CreatedAt.Local().Format("15:04"), sender)
	cont := strings.Repeat(" ", lipgloss.Width(prefix))
	available := clampMin(m.viewport.Width-lipgloss.Width(prefix), 10)

	body := msg.DisplayText()
	if msg.ReplyTo != "" {
		body = "↪ " + body
	}
	var suffix []string
	if msg.Likes > 0 {
		suffix = append(suffix, fmt.Sprintf("♥ %d", msg.Likes))
	}
	switch msg.Delivery {
	case message.DeliveryPending:
		suffix = append(suffix, "queued")
	case message.DeliverySyncing:
		suffix = append(suffix, "sending")
	case message.DeliveryFailed:
		suffix = append(suffix, "failed, /retry or /discard")
	}
	if msg.Translation.Status == message.TranslationFailed {
		suffix = append(suffix, "untranslated")
	}
	if len(suffix) > 0 {
		body += "  [" + strings.Join(suffix, ", ") + "]"
	}

	style := recvMsgStyle
	switch {
	case msg.Delivery == message.DeliveryFailed:
		style = failedMsgStyle
	case msg.Identity() == message.Provisional:
		style = pendingMsgStyle
	case msg.AuthorID == m.userID:
		style = sentMsgStyle
	}

	var out []string
	for i, part := range wrapText(body, available) {
		if i == 0 {
			out = append(out, style.Render(prefix+part))
			continue
		}
		out = append(out, style.Render(cont+part))
	}
	if msg.IsTranslated() {
		out = append(out, originalStyle.Render(cont+trimLine(msg.SourceLang+": "+msg.Content, available)))
	}
	return out
}

func (m chatModel) View() string {
	var b strings.Builder

	room := "no room"
	if id := m.client.RoomID(); id != "" {
		room = "room: " + id
	}
	header := fmt.Sprintf(
		"  %s  %s  %s  %s",
		appNameStyle.Render("* seatcon"),
		headerStyle.Render(m.userName),
		labelStyle.Render(room),
		labelStyle.Render("lang: "+m.client.PreferredLanguage()),
	)
	status := connectedStyle.Render("online")
	if !m.client.Online() {
		status = disconnectedStyle.Render("offline")
	}
	if n := m.client.QueueLen(); n > 0 {
		status = labelStyle.Render(humanize.Comma(int64(n))+" queued  ") + status
	}
	gap := max(1, m.width-lipgloss.Width(header)-lipgloss.Width(status)-2)
	b.WriteString(header + strings.Repeat(" ", gap) + status)
	b.WriteString("\n")

	if ann, ok := m.client.Announcement(); ok {
		line := fmt.Sprintf("  ! %s: %s (%s)", ann.AuthorName, ann.DisplayText(), humanize.Time(ann.CreatedAt))
		b.WriteString(announcementStyle.Render(trimLine(line, clampMin(m.width-2, 10))))
	}
	b.WriteString("\n")

	b.WriteString(separator(m.width))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")

	b.WriteString(activeInputStyle.Render("  > ") + m.input.View())
	b.WriteString("\n")

	switch {
	case m.errMsg != "":
		b.WriteString(errorStyle.Render("  x " + m.errMsg))
	case m.busy:
		b.WriteString(helpStyle.Render("  working..."))
	case m.info != "":
		b.WriteString(infoStyle.Render("  " + m.info))
	default:
		b.WriteString(helpStyle.Render("  enter: send - /help: commands - pgup/pgdn: scroll - ctrl+q: quit"))
	}
	return b.String()
}
