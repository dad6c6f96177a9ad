package postback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/repository"
)

// fakeStore serves offers, events, attributions and clicks from memory.
type fakeStore struct {
	offers       map[string]*model.Offer
	events       map[string]*model.Event
	attributions map[string]*model.Attribution
	clicks       map[string]*model.Click
}

func newFakeStore(offers ...*model.Offer) *fakeStore {
	s := &fakeStore{
		offers:       map[string]*model.Offer{},
		events:       map[string]*model.Event{},
		attributions: map[string]*model.Attribution{},
		clicks:       map[string]*model.Click{},
	}
	for _, o := range offers {
		s.offers[o.ID] = o
	}
	return s
}

func (s *fakeStore) GetOffer(_ context.Context, id string) (*model.Offer, error) {
	o, ok := s.offers[id]
	if !ok {
		return nil, repository.ErrOfferNotFound
	}
	return o, nil
}

func (s *fakeStore) GetOfferBySlug(_ context.Context, slug string) (*model.Offer, error) {
	for _, o := range s.offers {
		if o.Slug == slug {
			return o, nil
		}
	}
	return nil, repository.ErrOfferNotFound
}

func (s *fakeStore) GetEvent(_ context.Context, id string) (*model.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	return e, nil
}

func (s *fakeStore) GetAttribution(_ context.Context, tgID int64, offerID string) (*model.Attribution, error) {
	a, ok := s.attributions[attrKey(tgID, offerID)]
	if !ok {
		return nil, repository.ErrAttributionNotFound
	}
	return a, nil
}

func (s *fakeStore) GetClick(_ context.Context, id string) (*model.Click, error) {
	c, ok := s.clicks[id]
	if !ok {
		return nil, repository.ErrClickNotFound
	}
	return c, nil
}

func attrKey(tgID int64, offerID string) string {
	return fmt.Sprintf("%s/%d", offerID, tgID)
}

// errInvalidText mirrors Postgres rejecting invalid UTF-8 (SQLSTATE 22021).
var errInvalidText = errors.New("invalid byte sequence for encoding \"UTF8\"")

// fakeLogs is an append-only attempt log with the same attempt
// allocation and text encoding rules as the database.
type fakeLogs struct {
	mu   sync.Mutex
	rows []*model.PostbackLog
	now  time.Time
}

func (f *fakeLogs) InsertAttempt(_ context.Context, l *model.PostbackLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, text := range []string{l.ResponseBody, l.Error, l.URL} {
		if !utf8.ValidString(text) {
			return errInvalidText
		}
	}

	eventID := l.EventIDValue()
	maxAttempt := 0
	for _, r := range f.rows {
		if eventID == "" || r.EventIDValue() != eventID {
			continue
		}
		if l.Attempt > 0 && r.Attempt == l.Attempt {
			return ErrAttemptConflict
		}
		if r.Attempt > maxAttempt {
			maxAttempt = r.Attempt
		}
	}
	if l.Attempt == 0 {
		l.Attempt = maxAttempt + 1
	}
	if f.now.IsZero() {
		l.CreatedAt = time.Now()
	} else {
		f.now = f.now.Add(time.Second)
		l.CreatedAt = f.now
	}
	row := *l
	f.rows = append(f.rows, &row)
	return nil
}

func (f *fakeLogs) ListRetryCandidates(_ context.Context, offerID string, limit int) ([]*model.PostbackLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	latest := map[string]*model.PostbackLog{}
	var out []*model.PostbackLog
	for _, r := range f.rows {
		if r.OfferID != offerID {
			continue
		}
		if r.EventID == nil {
			if r.IsRetryable() {
				out = append(out, r)
			}
			continue
		}
		if cur, ok := latest[*r.EventID]; !ok || r.Attempt > cur.Attempt {
			latest[*r.EventID] = r
		}
	}
	for _, r := range latest {
		if r.IsRetryable() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLogs) byEvent(eventID string) []*model.PostbackLog {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.PostbackLog
	for _, r := range f.rows {
		if r.EventIDValue() == eventID {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeLogs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}
