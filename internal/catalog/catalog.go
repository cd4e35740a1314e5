// Package catalog holds the song list the daily broadcast picks from.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"songbot/internal/config"
	"songbot/pkg/tgui"
)

//go:embed songs.yaml
var builtin []byte

type Song struct {
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	URL    string `json:"url,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Render formats the song as Telegram HTML.
func (s Song) Render() tgui.H {
	title := tgui.B(s.Title)
	if s.URL != "" {
		title = tgui.Raw("<b>" + tgui.Link(s.Title, s.URL).String() + "</b>")
	}
	head := tgui.JoinH(" — ", title, tgui.Esc(s.Artist))
	var note tgui.H
	if s.Note != "" {
		note = tgui.I(s.Note)
	}
	return tgui.JoinH("\n", tgui.Raw("🎵 Песня дня"), head, note)
}

type file struct {
	Songs []Song `json:"songs"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu    sync.Mutex
	songs []Song
	rng   *rand.Rand
}

func New(songs []Song, rng *rand.Rand) (*Catalog, error) {
	clean := make([]Song, 0, len(songs))
	for i, s := range songs {
		s.Title = strings.TrimSpace(s.Title)
		s.Artist = strings.TrimSpace(s.Artist)
		s.URL = strings.TrimSpace(s.URL)
		s.Note = strings.TrimSpace(s.Note)
		if s.Title == "" {
			return nil, fmt.Errorf("catalog: song %d has no title", i)
		}
		clean = append(clean, s)
	}
	if len(clean) == 0 {
		return nil, errors.New("catalog: no songs")
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Catalog{songs: clean, rng: rng}, nil
}

// Load reads a YAML or JSON catalog from path; an empty path loads the
// built-in one.
func Load(path string, rng *rand.Rand) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Parse("songs.yaml", builtin, rng)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return Parse(path, b, rng)
}

// Parse decodes b as YAML when name ends in .yaml/.yml and as JSON
// otherwise. Both a {"songs": [...]} document and a bare list are accepted;
// unknown keys are rejected.
func Parse(name string, b []byte, rng *rand.Rand) (*Catalog, error) {
	jb, err := config.ToJSON(name, b)
	if err != nil {
		return nil, fmt.Errorf("catalog %w", err)
	}
	var list []Song
	if bytes.HasPrefix(jb, []byte("[")) {
		err = config.DecodeStrict(name, b, &list)
	} else {
		var f file
		err = config.DecodeStrict(name, b, &f)
		list = f.Songs
	}
	if err != nil {
		return nil, fmt.Errorf("catalog %w", err)
	}
	return New(list, rng)
}

func (c *Catalog) Len() int { return len(c.songs) }

// Random picks uniformly. Picks are independent; repeats are allowed.
func (c *Catalog) Random() Song {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.songs[c.rng.IntN(len(c.songs))]
}

func (c *Catalog) Songs() []Song { return append([]Song(nil), c.songs...) }
