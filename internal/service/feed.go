package service

import (
	"sync"

	"github.com/olyamironova/paper-engine/internal/domain"
)

// FillEvent is one committed fill of one account.
type FillEvent struct {
	AccountID string
	Fill      domain.Fill
}

// FillFeed fans committed fills out to subscribers. Subscribers keyed by ""
// receive every account's fills. Slow subscribers miss events rather than
// block the publisher.
type FillFeed struct {
	mu   sync.Mutex
	subs map[string]map[chan FillEvent]struct{}
}

func NewFillFeed() *FillFeed {
	return &FillFeed{subs: make(map[string]map[chan FillEvent]struct{})}
}

func (f *FillFeed) Subscribe(accountID string) chan FillEvent {
	ch := make(chan FillEvent, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[accountID]; !ok {
		f.subs[accountID] = make(map[chan FillEvent]struct{})
	}
	f.subs[accountID][ch] = struct{}{}
	return ch
}

func (f *FillFeed) Unsubscribe(accountID string, ch chan FillEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.subs[accountID]
	if !ok {
		return
	}
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	close(ch)
	if len(m) == 0 {
		delete(f.subs, accountID)
	}
}

func (f *FillFeed) Publish(accountID string, fills []domain.Fill) {
	if len(fills) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fl := range fills {
		ev := FillEvent{AccountID: accountID, Fill: fl}
		for _, key := range []string{accountID, ""} {
			for ch := range f.subs[key] {
				select {
				case ch <- ev:
				default:
				}
			}
		}
	}
}
