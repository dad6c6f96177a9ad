package antifraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tgcpa/tgcpa/internal/model"
)

type fakeStore struct {
	suspect   bool
	count     int
	recent    bool
	err       error
	since     time.Time
	countCall int
	reactCall int
}

func (s *fakeStore) HasSuspectFlag(context.Context, string, int64, string) (bool, error) {
	return s.suspect, s.err
}

func (s *fakeStore) CountEventsSince(_ context.Context, _ string, _ int64, _ model.EventType, since time.Time) (int, error) {
	s.countCall++
	s.since = since
	return s.count, s.err
}

func (s *fakeStore) HasRecentReaction(context.Context, string, int64, string, time.Duration) (bool, error) {
	s.reactCall++
	return s.recent, s.err
}

func TestGate_Evaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store fakeStore
		et    model.EventType
		want  Reason
	}{
		{"clean primary", fakeStore{count: 2}, model.EventJoinGroup, ""},
		{"suspect wins over cap", fakeStore{suspect: true, count: 5}, model.EventJoinGroup, ReasonSuspectIP},
		{"primary cap reached", fakeStore{count: 3}, model.EventSubscribe, ReasonPrimaryCap},
		{"non-primary ignores cap", fakeStore{count: 10}, model.EventComment, ""},
		{"reaction debounced", fakeStore{recent: true}, model.EventReaction, ReasonReactionDebounce},
		{"reaction allowed", fakeStore{}, model.EventReaction, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := tt.store
			g := NewGate(&store)
			got, err := g.Evaluate(context.Background(), Check{OfferID: "o", TgID: 1, EventType: tt.et, MessageID: "9"})
			if err != nil {
				t.Fatalf("Evaluate() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGate_ShortCircuits(t *testing.T) {
	t.Parallel()

	store := &fakeStore{suspect: true}
	g := NewGate(store)
	if _, err := g.Evaluate(context.Background(), Check{EventType: model.EventReaction}); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if store.countCall != 0 || store.reactCall != 0 {
		t.Errorf("later rules ran after suspect block: count=%d react=%d", store.countCall, store.reactCall)
	}
}

func TestGate_PropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	g := NewGate(&fakeStore{err: boom})
	if _, err := g.Evaluate(context.Background(), Check{EventType: model.EventJoinGroup}); !errors.Is(err, boom) {
		t.Errorf("Evaluate() err = %v, want wrapped %v", err, boom)
	}
}

func TestGate_CapUsesDayStart(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 10, 15, 30, 0, 0, time.UTC)
	store := &fakeStore{}
	g := NewGate(store, WithClock(func() time.Time { return now }), WithPrimaryCap(1))

	blocked, err := g.ShouldBlockPrimaryEvent(context.Background(), "o", 1, model.EventJoinGroup)
	if err != nil {
		t.Fatalf("ShouldBlockPrimaryEvent() error: %v", err)
	}
	if blocked {
		t.Error("blocked with zero events")
	}
	want := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	if !store.since.Equal(want) {
		t.Errorf("since = %v, want %v", store.since, want)
	}
}

func TestDayStart_Location(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*3600)
	// 22:00 UTC is already the next day at UTC+3.
	ts := time.Date(2026, 5, 10, 22, 0, 0, 0, time.UTC)
	got := DayStart(ts, loc)
	want := time.Date(2026, 5, 11, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("DayStart() = %v, want %v", got, want)
	}
}

func TestCIDRReputation(t *testing.T) {
	t.Parallel()

	rep, err := NewCIDRReputation([]string{"10.0.0.0/8", " 203.0.113.7 ", "", "2001:db8::/32"})
	if err != nil {
		t.Fatalf("NewCIDRReputation() error: %v", err)
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"11.0.0.1", false},
		{"203.0.113.7", true},
		{"203.0.113.8", false},
		{"::ffff:10.0.0.1", true},
		{"2001:db8::1", true},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := rep.IsSuspect(tt.ip); got != tt.want {
			t.Errorf("IsSuspect(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if _, err := NewCIDRReputation([]string{"10.0.0.0/99"}); err == nil {
		t.Error("NewCIDRReputation() accepted invalid CIDR")
	}

	var nilRep *CIDRReputation
	if nilRep.IsSuspect("10.0.0.1") {
		t.Error("nil reputation flagged an IP")
	}
}
