// Package bot holds the slash commands and the daily song job.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"songbot/internal/broadcast"
	"songbot/internal/catalog"
	"songbot/internal/storage"
	"songbot/internal/transport/telegram/router"
	logx "songbot/pkg/logx"
	"songbot/pkg/tgui"
)

const (
	msgStart = "Привет! Я AI-бот.\n\nПросто напиши мне сообщение, и я отвечу.\n" +
		"Хочешь получать песню дня? Жми /subscribe"
	msgSubscribed      = "✅ Ты подписан на песню дня."
	msgAlreadySub      = "Ты уже подписан."
	msgUnsubscribed    = "Ты отписан от рассылки."
	msgNotSubscribed   = "Ты и так не подписан."
	msgStorageFailed   = "⚠️ Не удалось сохранить изменения, попробуй позже."
	msgBroadcastBusy   = "⏳ Рассылка уже идёт, дождись её окончания."
	msgBroadcastFailed = "⚠️ Рассылка не удалась: "
)

type Subscribers interface {
	Subscribe(ctx context.Context, id int64) (bool, error)
	Unsubscribe(ctx context.Context, id int64) (bool, error)
	Len() int
}

type Broadcaster interface {
	Run(ctx context.Context, content broadcast.Content) (broadcast.Report, error)
	LastReport() (broadcast.Report, bool)
	Running() bool
}

type Songs interface {
	Random() catalog.Song
}

type Schedule interface {
	NextRun(name string) (time.Time, bool)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Subscribers Subscribers
	Broadcaster Broadcaster
	Songs       Songs
	// Schedule and DailyJob feed /status. Optional.
	Schedule Schedule
	DailyJob string
	Audit    Auditor
}

type Bot struct {
	d   Deps
	log logx.Logger
	// loc is swapped by config reloads while handlers read it.
	loc atomic.Pointer[time.Location]
}

func New(d Deps, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{d: d, log: log}
	b.loc.Store(time.Local)
	return b
}

// SetLocation sets the zone /status renders times in.
func (b *Bot) SetLocation(loc *time.Location) {
	if loc != nil {
		b.loc.Store(loc)
	}
}

// Location returns the zone times are rendered in.
func (b *Bot) Location() *time.Location { return b.loc.Load() }

// SongContent picks a catalog entry and renders it for a cycle.
func (b *Bot) SongContent(trigger string, actor int64) broadcast.Content {
	return broadcast.Content{
		Text:      b.d.Songs.Random().Render().String(),
		ParseMode: "HTML",
		Trigger:   trigger,
		ActorID:   actor,
	}
}

// DailyJob is the scheduler job: one cycle with a fresh random song.
func (b *Bot) DailyJob(ctx context.Context) error {
	rep, err := b.d.Broadcaster.Run(ctx, b.SongContent("schedule", 0))
	if errors.Is(err, broadcast.ErrCycleRunning) {
		b.log.Warn("daily broadcast skipped; a cycle is already running")
		return nil
	}
	if err != nil {
		return fmt.Errorf("daily broadcast: %w (sent %d of %d)", err, rep.Successful, rep.Total)
	}
	return nil
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Route: "start", Description: "Начать", Handle: b.start},
		{Route: "subscribe", Aliases: []string{"sub"}, Description: "Подписаться на песню дня", Handle: b.subscribe},
		{Route: "unsubscribe", Aliases: []string{"unsub", "stop"}, Description: "Отписаться от рассылки", Handle: b.unsubscribe},
		{Route: "song", Description: "Случайная песня прямо сейчас", Handle: b.song},
		{
			Route:       "broadcast",
			Description: "Разослать песню или текст всем подписчикам",
			Usage:       "/broadcast [текст]",
			Access:      router.AccessOwnerOnly,
			// a cycle over many recipients outlives the default handler timeout
			Timeout: time.Hour,
			Handle:  b.broadcast,
		},
		{Route: "status", Description: "Состояние рассылки", Access: router.AccessOwnerOnly, Handle: b.status},
	}
}

func (b *Bot) start(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, msgStart, nil)
}

func (b *Bot) subscribe(ctx context.Context, req *router.Request) error {
	added, err := b.d.Subscribers.Subscribe(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.Reply(ctx, msgStorageFailed, nil)
		return err
	}
	if !added {
		return req.Reply(ctx, msgAlreadySub, nil)
	}
	b.audit(ctx, req, "subscribe")
	return req.Reply(ctx, msgSubscribed, nil)
}

func (b *Bot) unsubscribe(ctx context.Context, req *router.Request) error {
	removed, err := b.d.Subscribers.Unsubscribe(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.Reply(ctx, msgStorageFailed, nil)
		return err
	}
	if !removed {
		return req.Reply(ctx, msgNotSubscribed, nil)
	}
	b.audit(ctx, req, "unsubscribe")
	return req.Reply(ctx, msgUnsubscribed, nil)
}

func (b *Bot) song(ctx context.Context, req *router.Request) error {
	return req.ReplyHTML(ctx, b.d.Songs.Random().Render().String())
}

func (b *Bot) broadcast(ctx context.Context, req *router.Request) error {
	content := b.SongContent("manual", req.FromID)
	if text := strings.TrimSpace(req.Text); text != "" {
		content = broadcast.Content{
			Text:      tgui.MarkdownToHTML(text),
			ParseMode: "HTML",
			Trigger:   "manual",
			ActorID:   req.FromID,
		}
	}

	rep, err := b.d.Broadcaster.Run(ctx, content)
	switch {
	case errors.Is(err, broadcast.ErrCycleRunning):
		return req.Reply(ctx, msgBroadcastBusy, nil)
	case err != nil && rep.Total == 0:
		_ = req.Reply(ctx, msgBroadcastFailed+err.Error(), nil)
		return err
	}
	// the cycle may have outlived ctx; the summary still has to reach the owner
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if rerr := req.ReplyHTML(rctx, FormatReport(rep, b.Location())); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func (b *Bot) status(ctx context.Context, req *router.Request) error {
	lines := []string{
		"📊 <b>Статус рассылки</b>",
		"Подписчиков: " + tgui.Code(fmt.Sprint(b.d.Subscribers.Len())).String(),
	}
	if b.d.Schedule != nil && b.d.DailyJob != "" {
		if next, ok := b.d.Schedule.NextRun(b.d.DailyJob); ok {
			lines = append(lines, "Следующая рассылка: "+tgui.Code(next.In(b.Location()).Format("2006-01-02 15:04 MST")).String())
		} else {
			lines = append(lines, "Следующая рассылка: <i>не запланирована</i>")
		}
	}
	if b.d.Broadcaster.Running() {
		lines = append(lines, "⏳ Рассылка идёт прямо сейчас")
	}
	if rep, ok := b.d.Broadcaster.LastReport(); ok {
		lines = append(lines, "", "<b>Последний цикл</b>", FormatReport(rep, b.Location()))
	}
	return req.ReplyHTML(ctx, strings.Join(lines, "\n"))
}

func (b *Bot) audit(ctx context.Context, req *router.Request, action string) {
	if b.d.Audit == nil {
		return
	}
	e := storage.AuditEntry{ActorID: req.FromID, ChatID: req.Chat.ChatID, Action: action}
	if err := b.d.Audit.AppendAudit(ctx, e); err != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

// FormatReport renders a cycle summary as Telegram HTML.
func FormatReport(rep broadcast.Report, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	lines := []string{
		fmt.Sprintf("📣 Рассылка (%s) от %s", tgui.Esc(rep.Trigger), rep.StartedAt.In(loc).Format("02.01 15:04")),
		fmt.Sprintf("Доставлено: <b>%d</b> из %d", rep.Successful, rep.Total),
	}
	if rep.Retried > 0 {
		lines = append(lines, fmt.Sprintf("Повторов после лимита: %d", rep.Retried))
	}
	if rep.Failed > 0 {
		lines = append(lines, fmt.Sprintf("Ошибок: %d", rep.Failed))
	}
	if rep.Removed > 0 {
		lines = append(lines, fmt.Sprintf("Удалено подписчиков: %d", rep.Removed))
	}
	if rep.Skipped > 0 {
		lines = append(lines, fmt.Sprintf("Пропущено (прервано): %d", rep.Skipped))
	}
	lines = append(lines, "Время: "+rep.Duration().Round(time.Millisecond).String())
	if rep.Err != "" {
		lines = append(lines, "⚠️ "+tgui.Esc(tgui.TruncRunes(rep.Err, 300)).String())
	}
	return strings.Join(lines, "\n")
}
