package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "ghwatch/internal/runtime/supervisor"
	kit "ghwatch/internal/transport"
	"ghwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "track" or
	// "track package".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["ls"]
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	From    string // username, may be empty
	Path    []string
	Command string
	Args    []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML message to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Options struct {
	Owners         []int64
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

// CommandManager routes text commands to handlers on a bounded worker pool.
type CommandManager struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 90 * time.Second
	}
	return &CommandManager{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		owners:  append([]int64(nil), opt.Owners...),
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		opt:     opt,
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// Supervisor returns the dispatcher supervisor, nil when not running.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (the jobs channel may be closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// SetRegistry installs the command set. A /help command is always added.
// Adapters that support it get the command menu refreshed in the background.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h", "start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	menuCandidates := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		menuCandidates = append(menuCandidates, c)

		leaf := root.find(route)
		// Multi-token routes get a Telegram-safe alias ("track package" ->
		// "track_package"). The bare single token must not become an alias,
		// or subcommand traversal would stop at it.
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildTelegramMenuCommands(root, menuCandidates)
		go func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.opt.Workers
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					// Middleware already recovers; this keeps the worker alive
					// if a job panics outside of it.
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeMessage(ctx, up)
		}
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		m.enqueueCommand(ctx, msg, cmd, splitRoute(cmd.Route), args)
		return
	}

	cur, ok := rootNode.child(word)
	if !ok {
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(ctx, msg.Target(), "Unknown command. Try /help", nil)
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		nxt := strings.ToLower(args[0])
		if strings.HasPrefix(nxt, "-") {
			break
		}
		child, ok := cur.child(nxt)
		if !ok {
			break
		}
		cur = child
		path = append(path, nxt)
		args = args[1:]
	}

	if cur.cmd == nil {
		_, _ = m.adapter.SendText(ctx, msg.Target(), m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}
	m.enqueueCommand(ctx, msg, *cur.cmd, path, args)
}

func (m *CommandManager) enqueueCommand(ctx context.Context, msg *kit.Message, cmd Command, path, raw []string) {
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, m.ownersSnapshot()) {
		_, _ = m.adapter.SendText(ctx, msg.Target(), "⛔ This command is restricted to bot owners.", nil)
		return
	}

	rid := newReqID()
	pos, flags, bools := parseFlags(raw)
	req := &Request{
		Message:   msg,
		Chat:      msg.Target(),
		FromID:    msg.FromID,
		From:      msg.FromUsername,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWReplyError(),
		MWTimeout(timeout),
	)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "Busy, try again in a moment.", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
