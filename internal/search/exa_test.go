package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "songbot/pkg/logx"
)

func TestSearch(t *testing.T) {
	var req searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "exa-key" {
			t.Errorf("x-api-key=%q", r.Header.Get("x-api-key"))
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Go","url":"https://go.dev","publishedDate":"2024-01-01","highlights":[" fast ","x"]},
			{"title":"","url":"https://example.com","highlights":[]}
		]}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "exa-key", BaseURL: srv.URL + "/"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Search(context.Background(), "what is go")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if req.Query != "what is go" || req.Type != "auto" || req.NumResults != DefaultNumResults || !req.Contents.Highlights {
		t.Fatalf("request=%+v", req)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sources", len(got))
	}
	if got[0] != (Source{Title: "Go", URL: "https://go.dev", Highlight: "fast", Date: "2024-01-01"}) {
		t.Fatalf("first=%+v", got[0])
	}
	if got[1].Title != untitled || got[1].Highlight != "" {
		t.Fatalf("second=%+v", got[1])
	}
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c, _ := New(Config{APIKey: "k", BaseURL: srv.URL}, logx.Nop())
	if _, err := c.Search(context.Background(), "q"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatalf("missing key should fail")
	}
}
