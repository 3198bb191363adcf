package mtu

import "sync"

// statsStore holds the read counters and the last completed message. Readers
// on other goroutines get copies.
type statsStore struct {
	mu              sync.Mutex
	successfulReads uint32
	corruptedReads  uint32
	lastMessage     *string
}

// record books one finished operation and returns the updated counters.
func (s *statsStore) record(msg string, completed, successful bool) (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if completed {
		m := msg
		s.lastMessage = &m
	}
	if successful {
		s.successfulReads++
	} else {
		s.corruptedReads++
	}
	return s.successfulReads, s.corruptedReads
}

func (s *statsStore) counts() (uint32, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successfulReads, s.corruptedReads
}

func (s *statsStore) last() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastMessage == nil {
		return "", false
	}
	return *s.lastMessage, true
}

func (s *statsStore) reset() {
	s.mu.Lock()
	s.successfulReads = 0
	s.corruptedReads = 0
	s.mu.Unlock()
}
