// ABOUTME: Tests for playlist CRUD and ordering against an in-memory store
package playlist

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, zerolog.Nop())
}

func addSongs(t *testing.T, s *Service, playlistID string, titles ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(titles))
	for _, title := range titles {
		song, err := s.AddSong(context.Background(), playlistID, Song{
			URL: "https://x/" + title, Title: title,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, song.ID)
	}
	return ids
}

func assertOrder(t *testing.T, s *Service, playlistID string, want ...string) {
	t.Helper()
	p, err := s.Get(context.Background(), playlistID)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Songs) != len(want) {
		t.Fatalf("song count = %d, want %d", len(p.Songs), len(want))
	}
	for i, song := range p.Songs {
		if song.Title != want[i] {
			t.Errorf("songs[%d] = %q, want %q", i, song.Title, want[i])
		}
		if song.SortOrder != i {
			t.Errorf("songs[%d] sort order = %d, want %d", i, song.SortOrder, i)
		}
	}
}

func TestUnavailableWithoutStore(t *testing.T) {
	s := NewService(nil, zerolog.Nop())
	if s.Available() {
		t.Error("nil store should report unavailable")
	}
	if _, err := s.Create(context.Background(), "u1", "Mix"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestCreateAndList(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	p, err := s.Create(ctx, "u1", "  Road Trip  ")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Road Trip" {
		t.Errorf("name = %q, want trimmed", p.Name)
	}

	if _, err := s.Create(ctx, "u1", ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank name err = %v, want ErrInvalid", err)
	}
	if _, err := s.Create(ctx, "", "Mix"); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank user err = %v, want ErrInvalid", err)
	}

	s.Create(ctx, "u2", "Other")
	mine, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != p.ID {
		t.Errorf("List = %+v", mine)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRename(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p, _ := s.Create(ctx, "u1", "Old")

	if err := s.Rename(ctx, p.ID, "New"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, p.ID)
	if got.Name != "New" {
		t.Errorf("name = %q", got.Name)
	}

	if err := s.Rename(ctx, p.ID, "  "); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	if err := s.Rename(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p, _ := s.Create(ctx, "u1", "Mix")
	addSongs(t, s, p.ID, "a", "b")

	if err := s.Delete(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted playlist err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestAddSongAssignsNextOrder(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p, _ := s.Create(ctx, "u1", "Mix")

	addSongs(t, s, p.ID, "a", "b", "c")
	assertOrder(t, s, p.ID, "a", "b", "c")

	if _, err := s.AddSong(ctx, p.ID, Song{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank url err = %v, want ErrInvalid", err)
	}
	if _, err := s.AddSong(ctx, "ghost", Song{URL: "https://x/a"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown playlist err = %v, want ErrNotFound", err)
	}
}

func TestRemoveSongRecompacts(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p, _ := s.Create(ctx, "u1", "Mix")
	ids := addSongs(t, s, p.ID, "a", "b", "c")

	if err := s.RemoveSong(ctx, p.ID, ids[0]); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, s, p.ID, "b", "c")

	if err := s.RemoveSong(ctx, p.ID, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed song err = %v, want ErrNotFound", err)
	}
}

func TestReorderSong(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p, _ := s.Create(ctx, "u1", "Mix")
	ids := addSongs(t, s, p.ID, "a", "b", "c", "d")

	if err := s.ReorderSong(ctx, p.ID, ids[3], 0); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, s, p.ID, "d", "a", "b", "c")

	if err := s.ReorderSong(ctx, p.ID, ids[3], 0); err != nil {
		t.Errorf("no-op reorder err = %v", err)
	}
	if err := s.ReorderSong(ctx, p.ID, ids[0], 9); !errors.Is(err, ErrInvalid) {
		t.Errorf("out-of-range err = %v, want ErrInvalid", err)
	}
	if err := s.ReorderSong(ctx, p.ID, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown song err = %v, want ErrNotFound", err)
	}
}
