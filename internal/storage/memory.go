package storage

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/liveagent/internal/models"
)

// MemoryStorage keeps interactions and lead scores in process memory. Used
// for development and tests.
type MemoryStorage struct {
	mu           sync.RWMutex
	interactions map[string][]*models.InteractionResult
	leads        map[string]leadEntry
}

type leadEntry struct {
	score     int
	updatedAt time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		interactions: make(map[string][]*models.InteractionResult),
		leads:        make(map[string]leadEntry),
	}
}

func (s *MemoryStorage) SaveInteraction(_ context.Context, interaction *models.InteractionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *interaction
	s.interactions[interaction.SessionID] = append(s.interactions[interaction.SessionID], &copied)
	return nil
}

func (s *MemoryStorage) UpdateLeadScore(_ context.Context, sessionID, username string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leads[sessionID+":"+username] = leadEntry{score: score, updatedAt: time.Now()}
	return nil
}

func (s *MemoryStorage) RecentInteractions(_ context.Context, sessionID string, limit int) ([]*models.InteractionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.interactions[sessionID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Newest first.
	out := make([]*models.InteractionResult, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		copied := *all[i]
		out = append(out, &copied)
	}
	return out, nil
}

// LeadScore returns the recorded score for a participant, or -1 when none
// exists.
func (s *MemoryStorage) LeadScore(sessionID, username string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.leads[sessionID+":"+username]; ok {
		return entry.score
	}
	return -1
}

func (s *MemoryStorage) Close() error {
	return nil
}
