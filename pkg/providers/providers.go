// Package providers stores the active data provider per company and workflow type.
// The fallback_provider recovery action swaps it; payload building reads it.
package providers

import (
	"context"
	"sync"

	"github.com/leadpipe/orchestrator/pkg/models"
)

type Store interface {
	// Current returns the selected provider, or "" when none is stored.
	Current(ctx context.Context, companyID string, workflowType models.WorkflowType) (string, error)
	Set(ctx context.Context, companyID string, workflowType models.WorkflowType, provider string) error
}

type key struct {
	companyID    string
	workflowType models.WorkflowType
}

// MemoryStore keeps selections in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	selection map[key]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{selection: make(map[key]string)}
}

func (s *MemoryStore) Current(_ context.Context, companyID string, workflowType models.WorkflowType) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.selection[key{companyID, workflowType}], nil
}

func (s *MemoryStore) Set(_ context.Context, companyID string, workflowType models.WorkflowType, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selection[key{companyID, workflowType}] = provider

	return nil
}
