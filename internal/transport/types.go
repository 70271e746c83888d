package transport

import "context"

type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id, 0 if none
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// Target returns where a reply to m should go.
func (m *Message) Target() ChatTarget {
	return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is a message queued for asynchronous delivery.
type Notification struct {
	// Key identifies the event behind the message, for logs and bus events.
	Key     string
	Target  ChatTarget
	Text    string
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a
// command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
