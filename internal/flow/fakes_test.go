package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

type sentMessage struct {
	To   string
	Body string
}

// fakeSender records sends and fails while fail is set. hold, when set, runs
// before each send.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
	hold func(body string)
}

func (s *fakeSender) SendMessage(ctx context.Context, to, body string) error {
	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		hold(body)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("transport unavailable")
	}
	s.sent = append(s.sent, sentMessage{To: to, Body: body})
	return nil
}

func (s *fakeSender) setHold(fn func(body string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = fn
}

func (s *fakeSender) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// fakeLeads hands out sequential lead IDs and fails while fail is set.
type fakeLeads struct {
	mu    sync.Mutex
	leads []models.Lead
	calls int
	fail  bool
	delay time.Duration
}

func (l *fakeLeads) CreateLead(ctx context.Context, lead models.Lead) (string, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.fail {
		return "", errors.New("crm rejected lead")
	}
	l.leads = append(l.leads, lead)
	return fmt.Sprintf("LEAD-%03d", len(l.leads)), nil
}

func (l *fakeLeads) setFail(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = v
}

func (l *fakeLeads) snapshot() ([]models.Lead, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Lead, len(l.leads))
	copy(out, l.leads)
	return out, l.calls
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (s fakeSummarizer) SummarizeRequirement(ctx context.Context, lead models.Lead) (string, error) {
	return s.summary, s.err
}
