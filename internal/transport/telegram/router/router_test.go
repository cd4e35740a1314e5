package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "songbot/internal/transport"
	logx "songbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	menus [][]kit.BotCommand
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}
func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) SendTyping(ctx context.Context, to kit.ChatTarget) error { return nil }
func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, cmds)
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startRouter(t *testing.T, r *Router) chan kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// DispatchLoop marks itself running before reading updates
	waitFor(t, func() bool {
		r.runMu.Lock()
		defer r.runMu.Unlock()
		return r.running
	})
	return updates
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, Text: text}}
}

func TestDispatchCommandsAndAccess(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, []int64{1})

	var mu sync.Mutex
	var got []*Request
	record := func(ctx context.Context, req *Request) error {
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		return nil
	}
	r.SetRegistry([]Command{
		{Route: "subscribe", Aliases: []string{"sub"}, Handle: record},
		{Route: "broadcast", Access: AccessOwnerOnly, Handle: record},
	})
	updates := startRouter(t, r)

	updates <- msg(5, "/Sub@songbot")
	updates <- msg(5, "/broadcast hi")
	updates <- msg(1, "/broadcast Привет,\nмир")
	updates <- msg(5, "/nope")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && len(ad.texts()) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	byCmd := map[string]*Request{}
	for _, req := range got {
		byCmd[req.Command] = req
	}
	if byCmd["subscribe"] == nil || byCmd["subscribe"].Owner {
		t.Fatalf("alias dispatch: %+v", byCmd["subscribe"])
	}
	b := byCmd["broadcast"]
	if b == nil || !b.Owner || b.FromID != 1 || b.Text != "Привет,\nмир" {
		t.Fatalf("owner broadcast: %+v", b)
	}
	texts := strings.Join(ad.texts(), "|")
	if !strings.Contains(texts, msgUnauthorized) || !strings.Contains(texts, msgUnknown) {
		t.Fatalf("replies=%q", texts)
	}
}

func TestTextHandlerAndPanicRecovery(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil, WithWorkers(1))
	seen := make(chan string, 4)
	r.SetTextHandler(func(ctx context.Context, m *kit.Message) error {
		if m.Text == "boom" {
			panic("boom")
		}
		seen <- m.Text
		return nil
	})
	r.SetRegistry(nil)
	updates := startRouter(t, r)

	updates <- msg(5, "boom")
	updates <- msg(5, "как дела?")
	select {
	case s := <-seen:
		if s != "как дела?" {
			t.Fatalf("got %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive the panic")
	}
}

func TestEnqueueWhenStopped(t *testing.T) {
	r := New(logx.Nop(), &fakeAdapter{}, nil)
	if r.enqueue(func() {}) {
		t.Fatalf("enqueue must fail before DispatchLoop")
	}
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	noop := func(ctx context.Context, req *Request) error { return nil }
	r := New(logx.Nop(), &fakeAdapter{}, nil)
	r.SetRegistry([]Command{
		{Route: "song", Description: "Случайная песня", Handle: noop},
		{Route: "status", Description: "Состояние", Access: AccessOwnerOnly, Handle: noop},
		{Route: "secret", Hidden: true, Handle: noop},
	})

	public := r.helpText(nil, false)
	if !strings.Contains(public, "/song") || strings.Contains(public, "/status") || strings.Contains(public, "/secret") {
		t.Fatalf("public help:\n%s", public)
	}
	if owner := r.helpText(nil, true); !strings.Contains(owner, "🔒 <code>/status</code>") {
		t.Fatalf("owner help:\n%s", owner)
	}
	if one := r.helpText([]string{"/status"}, false); !strings.Contains(one, "Неизвестная") {
		t.Fatalf("owner command leaked: %s", one)
	}
}

func TestMenuStartFirst(t *testing.T) {
	noop := func(ctx context.Context, req *Request) error { return nil }
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, nil)
	menu := r.SetRegistry([]Command{
		{Route: "unsubscribe", Description: "Отписаться", Handle: noop},
		{Route: "start", Description: "Начать", Handle: noop},
		{Route: "broadcast", Description: "Разослать", Access: AccessOwnerOnly, Handle: noop},
		{Route: "bad-name", Handle: noop},
	})
	var names []string
	for _, c := range menu {
		names = append(names, c.Command)
	}
	want := []string{"start", "broadcast", "help", "unsubscribe"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("menu=%v want %v", names, want)
	}
	if menu[1].Description != "🔒 Разослать" {
		t.Fatalf("owner desc=%q", menu[1].Description)
	}
	r.PublishMenu(context.Background(), menu)
	if len(ad.menus) != 1 {
		t.Fatalf("menu not published")
	}
}

func TestSplitCommandAndTokenize(t *testing.T) {
	tests := []struct {
		in, word, rest string
	}{
		{"/start", "start", ""},
		{"/HELP@SongBot broadcast", "help", "broadcast"},
		{"/broadcast\nline one\nline two", "broadcast", "line one\nline two"},
	}
	for _, tt := range tests {
		w, r := splitCommand(tt.in)
		if w != tt.word || r != tt.rest {
			t.Fatalf("splitCommand(%q) = %q, %q", tt.in, w, r)
		}
	}
	if got := tokenize(`a "b c" 'd' e\ f`); !reflect.DeepEqual(got, []string{"a", "b c", "d", "e f"}) {
		t.Fatalf("tokenize=%q", got)
	}
}
