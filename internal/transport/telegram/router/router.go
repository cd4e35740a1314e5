package router

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"songbot/internal/runtime/supervisor"
	kit "songbot/internal/transport"
	logx "songbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is the command word without the slash, e.g. "subscribe".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Hidden keeps the command out of /help and the Telegram menu.
	Hidden bool

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// TextHandler receives every non-command text message.
type TextHandler func(ctx context.Context, msg *kit.Message) error

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Text is everything after the command word, untouched.
	Text  string
	ReqID string
	Owner bool

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// ReplyHTML is Reply with HTML parse mode and no link previews.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	return r.Reply(ctx, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

const (
	msgUnknown      = "Неизвестная команда. Попробуй /help"
	msgUnauthorized = "⛔ Команда доступна только владельцу бота."
	msgBusy         = "Бот занят, попробуй ещё раз."
)

type Option func(*Router)

// WithWorkers bounds concurrent handlers.
func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithDefaultTimeout applies to commands without their own Timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Router) { r.defaultTimeout = d }
}

// WithQueue sets the job queue capacity.
func WithQueue(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queue = n
		}
	}
}

// Router dispatches updates to commands and the text handler on a bounded
// worker pool.
type Router struct {
	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	owners []int64
	text   TextHandler

	log     logx.Logger
	adapter kit.Adapter

	workers        int
	queue          int
	defaultTimeout time.Duration

	runMu   sync.Mutex
	running bool
	jobs    chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		root:    newRoot(),
		alias:   map[string]*cmdNode{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		workers: 4,
		queue:   256,
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	return r
}

// SetOwners updates the owner list used for AccessOwnerOnly checks. Safe to
// call during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetDefaultTimeout is the hot-reload counterpart of WithDefaultTimeout.
func (r *Router) SetDefaultTimeout(d time.Duration) {
	r.mu.Lock()
	r.defaultTimeout = d
	r.mu.Unlock()
}

func (r *Router) SetTextHandler(h TextHandler) {
	r.mu.Lock()
	r.text = h
	r.mu.Unlock()
}

func (r *Router) IsOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return isOwner(id, r.owners)
}

// SetRegistry installs cmds plus the built-in /help and returns the menu
// entries for the Telegram command list.
func (r *Router) SetRegistry(cmds []Command) []kit.BotCommand {
	helper := Command{
		Route:       "help",
		Description: "Список команд",
		Usage:       "/help [команда]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, r.helpText(req.Args, req.Owner))
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := strings.ToLower(strings.TrimSpace(c.Route))
		if route == "" || strings.Contains(route, " ") || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := alias[a]; !exists {
				alias[a] = leaf
			}
		}
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.mu.Unlock()
	return buildMenu(root)
}

// PublishMenu pushes the menu when the adapter supports it.
func (r *Router) PublishMenu(ctx context.Context, menu []kit.BotCommand) {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(cctx, menu); err != nil {
		r.log.Warn("menu update failed", logx.Err(err))
	}
}

func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	jobs := make(chan func(), r.queue)
	r.runMu.Lock()
	r.jobs = jobs
	r.running = true
	r.runMu.Unlock()

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(jobs)))

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		close(jobs)
		r.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.route(ctx, up.Message)
			}
		}
	}
}

func (r *Router) enqueue(fn func()) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return false
	}
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !strings.HasPrefix(text, "/") {
		r.routeText(ctx, msg, chat)
		return
	}

	word, rest := splitCommand(text)
	r.mu.RLock()
	cmd := r.lookupLocked(word)
	owner := isOwner(msg.FromID, r.owners)
	timeout := r.defaultTimeout
	r.mu.RUnlock()

	if cmd == nil {
		_, _ = r.adapter.SendText(ctx, chat, msgUnknown, nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !owner {
		_, _ = r.adapter.SendText(ctx, chat, msgUnauthorized, nil)
		return
	}
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Route,
		Args:    tokenize(rest),
		Text:    rest,
		ReqID:   rid,
		Owner:   owner,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	if !r.enqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, chat, msgBusy, nil)
	}
}

func (r *Router) routeText(ctx context.Context, msg *kit.Message, chat kit.ChatTarget) {
	r.mu.RLock()
	h := r.text
	r.mu.RUnlock()
	if h == nil {
		return
	}
	log := r.log.With(logx.Int64("chat_id", msg.ChatID), logx.Int64("from_id", msg.FromID))
	if !r.enqueue(func() {
		defer recoverTo(log)
		if err := h(ctx, msg); err != nil {
			log.Warn("text handler failed", logx.Err(err))
		}
	}) {
		_, _ = r.adapter.SendText(ctx, chat, msgBusy, nil)
	}
}

func (r *Router) lookupLocked(word string) *Command {
	if n, ok := r.root.child(word); ok && n.cmd != nil {
		return n.cmd
	}
	if n, ok := r.alias[word]; ok && n != nil {
		return n.cmd
	}
	return nil
}

// splitCommand returns the lowercased command word (without "/" and
// "@botname") and the raw remainder.
func splitCommand(text string) (string, string) {
	word, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, rest = text[:i], text[i:]
	}
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), strings.TrimSpace(rest)
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
