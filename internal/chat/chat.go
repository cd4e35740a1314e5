// Package chat answers free-text messages with a language model, optionally
// grounding the answer in web search results.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"songbot/internal/search"
	"songbot/internal/transport"
	logx "songbot/pkg/logx"
	"songbot/pkg/tgui"
)

const (
	msgThinking  = "🤔 Думаю..."
	msgSearching = "🔍 Ищу источники..."
	msgAnalyzing = "🤔 Анализирую..."
	msgFailed    = "❌ Не удалось получить ответ"
	msgNoAI      = "AI не настроен. Добавь OPENROUTER_API_KEY в .env"

	// minSearchRunes is the shortest message worth a search.
	minSearchRunes = 15
)

var skipSearchWords = map[string]struct{}{
	"привет": {}, "здравствуй": {}, "хай": {}, "hi": {}, "hello": {}, "спасибо": {},
	"благодарю": {}, "ок": {}, "ok": {}, "да": {}, "нет": {}, "пока": {}, "bye": {},
	"хорошо": {}, "понял": {}, "ясно": {},
}

type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Source, error)
}

// Messenger is the slice of transport.Adapter the relay uses.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
	SendTyping(ctx context.Context, to transport.ChatTarget) error
}

type Config struct {
	SystemPrompt string
	// Timeout bounds one answer including search. Zero means none.
	Timeout time.Duration
}

type Handler struct {
	cfg      Config
	ai       Completer
	searcher Searcher
	out      Messenger
	log      logx.Logger
}

// New builds the relay. ai and searcher may be nil: without ai every
// message gets a setup hint, without searcher answers are ungrounded.
func New(cfg Config, ai Completer, searcher Searcher, out Messenger, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{cfg: cfg, ai: ai, searcher: searcher, out: out, log: log}
}

// ShouldSearch reports whether text deserves a source lookup.
func (h *Handler) ShouldSearch(text string) bool {
	if h.searcher == nil {
		return false
	}
	return worthSearching(text)
}

func worthSearching(text string) bool {
	if utf8.RuneCountInString(text) < minSearchRunes {
		return false
	}
	w := strings.TrimRight(strings.TrimSpace(strings.ToLower(text)), "!?.")
	_, skip := skipSearchWords[w]
	return !skip
}

// BuildSystemPrompt appends the sources block to base. No sources leaves
// base unchanged.
func BuildSystemPrompt(base string, sources []search.Source) string {
	if len(sources) == 0 {
		return base
	}
	lines := make([]string, 0, len(sources))
	for _, s := range sources {
		lines = append(lines, fmt.Sprintf("- [%s](%s): %s", s.Title, s.URL, s.Highlight))
	}
	return base + "\n\n" +
		"У тебя есть доступ к следующим источникам по теме запроса:\n" +
		strings.Join(lines, "\n") + "\n\n" +
		`Используй эти источники в ответе, если они релевантны. В конце ответа добавь раздел "Источники:" со ссылками в формате markdown [название](url). Если источники нерелевантны — не упоминай их.`
}

// Handle answers one user message. Failures are shown to the user in the
// placeholder; the returned error is for logging only.
func (h *Handler) Handle(ctx context.Context, m *transport.Message) error {
	if m == nil || strings.TrimSpace(m.Text) == "" {
		return nil
	}
	to := transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if h.ai == nil {
		_, err := h.out.SendText(ctx, to, msgNoAI, nil)
		return err
	}
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	placeholder, err := h.out.SendText(ctx, to, msgThinking, nil)
	if err != nil {
		return fmt.Errorf("send placeholder: %w", err)
	}
	if err := h.out.SendTyping(ctx, to); err != nil {
		h.log.Debug("typing indicator failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}

	chunks, err := h.answer(ctx, placeholder, m.Text)
	if err != nil {
		h.log.Error("ai answer failed", logx.Int64("chat_id", m.ChatID), logx.Int64("user_id", m.FromID), logx.Err(err))
		if eerr := h.out.EditText(context.WithoutCancel(ctx), placeholder, msgFailed, nil); eerr != nil {
			h.log.Warn("failed to report ai error", logx.Err(eerr))
		}
		return err
	}

	html := &transport.SendOptions{ParseMode: tgui.ParseModeHTML}
	if err := h.out.EditText(ctx, placeholder, chunks[0], html); err != nil {
		_ = h.out.EditText(context.WithoutCancel(ctx), placeholder, msgFailed, nil)
		return fmt.Errorf("edit answer: %w", err)
	}
	for _, c := range chunks[1:] {
		if _, err := h.out.SendText(ctx, to, c, html); err != nil {
			return fmt.Errorf("send answer chunk: %w", err)
		}
	}
	return nil
}

func (h *Handler) answer(ctx context.Context, placeholder transport.MessageRef, text string) ([]string, error) {
	var sources []search.Source
	if h.ShouldSearch(text) {
		h.status(ctx, placeholder, msgSearching)
		found, err := h.searcher.Search(ctx, text)
		if err != nil {
			// search is an enrichment; answer without it
			h.log.Warn("search failed", logx.Err(err))
		}
		sources = found
		h.status(ctx, placeholder, msgAnalyzing)
	}

	reply, err := h.ai.Complete(ctx, BuildSystemPrompt(h.cfg.SystemPrompt, sources), text)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		return nil, errors.New("empty completion")
	}
	return tgui.SplitMessage(tgui.MarkdownToHTML(reply), tgui.MaxMessageLength), nil
}

func (h *Handler) status(ctx context.Context, ref transport.MessageRef, text string) {
	if err := h.out.EditText(ctx, ref, text, nil); err != nil {
		h.log.Debug("status edit failed", logx.Err(err))
	}
}
