package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/repository"
)

// memStore mirrors the repository semantics the services rely on.
type memStore struct {
	mu           sync.Mutex
	offers       map[string]*model.Offer
	clicks       map[string]*model.Click
	attributions map[string]*model.Attribution
	events       []*model.Event
	postbacks    []*model.PostbackLog
	now          func() time.Time
}

func newMemStore(offers ...*model.Offer) *memStore {
	s := &memStore{
		offers:       map[string]*model.Offer{},
		clicks:       map[string]*model.Click{},
		attributions: map[string]*model.Attribution{},
		now:          time.Now,
	}
	for _, o := range offers {
		s.offers[o.ID] = o
	}
	return s
}

func (s *memStore) GetOffer(_ context.Context, id string) (*model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, repository.ErrOfferNotFound
	}
	return o, nil
}

func (s *memStore) GetOfferBySlug(_ context.Context, slug string) (*model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.Slug == slug {
			return o, nil
		}
	}
	return nil, repository.ErrOfferNotFound
}

func (s *memStore) CreateClick(_ context.Context, click *model.Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clicks {
		if c.StartToken == click.StartToken {
			return repository.ErrStartTokenTaken
		}
	}
	click.CreatedAt = s.now()
	cp := *click
	s.clicks[click.ID] = &cp
	return nil
}

func (s *memStore) RedeemToken(_ context.Context, token string, tgID int64) (*model.Click, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clicks {
		if c.StartToken != token {
			continue
		}
		id := tgID
		c.TgID = &id
		if c.UsedAt == nil {
			at := s.now()
			c.UsedAt = &at
		}
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrClickNotFound
}

func (s *memStore) GetClick(_ context.Context, id string) (*model.Click, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clicks[id]
	if !ok {
		return nil, repository.ErrClickNotFound
	}
	cp := *c
	return &cp, nil
}

func attributionKey(tgID int64, offerID string) string {
	return fmt.Sprintf("%d/%s", tgID, offerID)
}

func (s *memStore) UpsertAttribution(_ context.Context, in model.AttributionInput) (*model.Attribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := attributionKey(in.TgID, in.OfferID)
	a, ok := s.attributions[key]
	if !ok {
		a = &model.Attribution{
			TgID:      in.TgID,
			OfferID:   in.OfferID,
			State:     model.AttributionStarted,
			FirstSeen: now,
			Meta:      model.Meta{},
		}
		s.attributions[key] = a
	}
	if in.UID != "" {
		uid := in.UID
		a.UID = &uid
	}
	if in.ClickID != "" {
		cid := in.ClickID
		a.ClickID = &cid
	}
	if in.SuspectIP {
		a.Meta[model.MetaSuspectIP] = true
	}
	a.LastSeen = now
	cp := *a
	return &cp, nil
}

func (s *memStore) MarkConverted(_ context.Context, tgID int64, offerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attributions[attributionKey(tgID, offerID)]; ok {
		a.State = model.AttributionConverted
	}
	return nil
}

func (s *memStore) InsertEvent(_ context.Context, event *model.Event) (*model.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.IdempotencyKey == event.IdempotencyKey {
			return e, false, nil
		}
	}
	cp := *event
	cp.CreatedAt = s.now()
	s.events = append(s.events, &cp)
	return &cp, true, nil
}

func (s *memStore) FindEventSince(_ context.Context, offerID string, tgID int64, et model.EventType, since time.Time) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.OfferID == offerID && e.TgID == tgID && e.EventType == et && !e.CreatedAt.Before(since) {
			return e, nil
		}
	}
	return nil, repository.ErrEventNotFound
}

func (s *memStore) CountEventsSince(_ context.Context, offerID string, tgID int64, et model.EventType, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.OfferID == offerID && e.TgID == tgID && e.EventType == et && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) HasRecentReaction(_ context.Context, offerID string, tgID int64, messageID string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-window)
	for _, e := range s.events {
		if e.OfferID == offerID && e.TgID == tgID && e.EventType == model.EventReaction &&
			e.MessageID() == messageID && !e.CreatedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) HasSuspectFlag(_ context.Context, offerID string, tgID int64, clickID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clicks[clickID]; ok && c.SuspectIP() {
		return true, nil
	}
	for _, c := range s.clicks {
		if c.OfferID == offerID && c.TgID != nil && *c.TgID == tgID && c.SuspectIP() {
			return true, nil
		}
	}
	if a, ok := s.attributions[attributionKey(tgID, offerID)]; ok && a.SuspectIP() {
		return true, nil
	}
	return false, nil
}

func (s *memStore) InsertAttempt(_ context.Context, l *model.PostbackLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Attempt == 0 {
		l.Attempt = 1
		for _, p := range s.postbacks {
			if l.EventID != nil && p.EventIDValue() == *l.EventID && p.Attempt >= l.Attempt {
				l.Attempt = p.Attempt + 1
			}
		}
	}
	l.CreatedAt = s.now()
	cp := *l
	s.postbacks = append(s.postbacks, &cp)
	return nil
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memStore) postbackStatuses() []model.PostbackStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PostbackStatus, 0, len(s.postbacks))
	for _, p := range s.postbacks {
		out = append(out, p.Status)
	}
	return out
}
