package model

import (
	"testing"

	"github.com/vchat-dev/vchat/internal/docstore"
)

func TestDeriveName(t *testing.T) {
	cases := []struct {
		handle, want string
	}{
		{"ana@vchat.dev", "ana"},
		{"plainname", "plainname"},
		{"", "Unknown"},
	}
	for _, c := range cases {
		if got := DeriveName(c.handle); got != c.want {
			t.Errorf("DeriveName(%q) = %q, want %q", c.handle, got, c.want)
		}
	}
}

func TestIsDirectBetween(t *testing.T) {
	direct := Chat{Participants: []string{"a", "b"}}
	if !direct.IsDirectBetween("b", "a") {
		t.Error("pair order should not matter")
	}
	if direct.IsDirectBetween("a", "c") {
		t.Error("matched a non-participant")
	}

	group := Chat{IsGroup: true, Participants: []string{"a", "b"}}
	if group.IsDirectBetween("a", "b") {
		t.Error("group chat matched as direct")
	}

	triple := Chat{Participants: []string{"a", "b", "c"}}
	if triple.IsDirectBetween("a", "b") {
		t.Error("three-way chat matched as direct")
	}
}

func TestOtherParticipant(t *testing.T) {
	c := Chat{Participants: []string{"a", "b"}}
	if got := c.OtherParticipant("a"); got != "b" {
		t.Errorf("got %q, want b", got)
	}
	if got := (Chat{IsGroup: true, Participants: []string{"a", "b"}}).OtherParticipant("a"); got != "" {
		t.Errorf("group chat returned a participant: %q", got)
	}
}

func TestMessageFromDocDefaultsKind(t *testing.T) {
	m := MessageFromDoc("c1", docstore.Doc{
		ID:   "m1",
		Data: []byte(`{"text":"hi","senderId":"a","timestamp":5}`),
	})
	if m.Kind != KindText {
		t.Errorf("kind = %q, want %q", m.Kind, KindText)
	}
	if m.ChatID != "c1" || m.ID != "m1" {
		t.Errorf("identity not carried: %+v", m)
	}
}
