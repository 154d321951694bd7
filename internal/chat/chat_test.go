// ABOUTME: Tests for chat history rings and the per-connection throttle
package chat

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

func newTestService() *Service {
	return NewService(nil, nil, zerolog.Nop())
}

func TestThrottleAllowsBurstThenBlocks(t *testing.T) {
	s := newTestService()
	for i := 0; i < throttleBurst; i++ {
		if s.IsThrottled("conn1") {
			t.Fatalf("message %d throttled inside the burst", i+1)
		}
	}
	if !s.IsThrottled("conn1") {
		t.Error("message beyond the burst should be throttled")
	}

	// Other connections are unaffected.
	if s.IsThrottled("conn2") {
		t.Error("fresh connection throttled")
	}
}

func TestDropConnectionResetsThrottle(t *testing.T) {
	s := newTestService()
	for i := 0; i < throttleBurst+1; i++ {
		s.IsThrottled("conn1")
	}
	s.DropConnection("conn1")
	if s.IsThrottled("conn1") {
		t.Error("reconnect should start with a fresh limiter")
	}
}

func TestAddMessageTruncates(t *testing.T) {
	s := newTestService()
	msg := s.AddMessage("l1", "u1", "alice", "", strings.Repeat("a", 600))
	if len(msg.Content) != maxContentLen {
		t.Errorf("content length = %d, want %d", len(msg.Content), maxContentLen)
	}
	if msg.ID == "" || msg.Timestamp == 0 {
		t.Error("expected generated id and timestamp")
	}
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	s := newTestService()
	// A two-byte rune straddling the limit must be dropped whole, not
	// left as a dangling lead byte.
	content := strings.Repeat("a", maxContentLen-1) + "é"
	msg := s.AddMessage("l1", "u1", "alice", "", content)
	if !utf8.ValidString(msg.Content) {
		t.Error("truncated content is not valid UTF-8")
	}
	if len(msg.Content) != maxContentLen-1 {
		t.Errorf("content length = %d, want %d", len(msg.Content), maxContentLen-1)
	}
}

func TestHistoryOrderAndCap(t *testing.T) {
	s := newTestService()
	for i := 0; i < ringCap+20; i++ {
		s.AddMessage("l1", "u1", "alice", "", "msg")
	}

	all := s.GetHistory("l1", ringCap*2)
	if len(all) != ringCap {
		t.Errorf("ring length = %d, want %d", len(all), ringCap)
	}

	limited := s.GetHistory("l1", 10)
	if len(limited) != 10 {
		t.Errorf("limited history = %d, want 10", len(limited))
	}
	// Newest messages are at the end.
	if limited[len(limited)-1].Timestamp < limited[0].Timestamp {
		t.Error("history not chronological")
	}
}

func TestHistoryEmptyLobby(t *testing.T) {
	s := newTestService()
	if got := s.GetHistory("ghost", 50); len(got) != 0 {
		t.Errorf("expected empty history, got %d", len(got))
	}
}

func TestDropLobby(t *testing.T) {
	s := newTestService()
	s.AddMessage("l1", "u1", "alice", "", "hello")
	s.DropLobby("l1")
	if got := s.GetHistory("l1", 50); len(got) != 0 {
		t.Errorf("dropped lobby still has %d messages", len(got))
	}
}
