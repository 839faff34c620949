package signal

import (
	"sync"

	"arbd/pkg/types"
)

// quoteStore is a mutex-protected last-value cache of each pair's most
// recent EdgeQuote, read through Engine.Latest by the observability
// snapshot; the risk controller receives quotes from EdgeComputed events.
type quoteStore struct {
	mu sync.RWMutex
	m  map[string]types.EdgeQuote
}

func newQuoteStore() quoteStore {
	return quoteStore{m: make(map[string]types.EdgeQuote)}
}

func (s *quoteStore) store(pairID string, q types.EdgeQuote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[pairID] = q
}

func (s *quoteStore) load(pairID string) (types.EdgeQuote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.m[pairID]
	return q, ok
}
