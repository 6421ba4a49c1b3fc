// Package file provides file-based persistence for the execution ledger and domain records.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leadpipe/orchestrator/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	executionRepo *ExecutionRepository
	workflowRepo  *WorkflowRepository
	leadRepo      *LeadRepository
	replyRepo     *ReplyRepository
	bookingRepo   *BookingRepository
	actionLogRepo *ActionLogRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		executionRepo: NewExecutionRepository(cleanRoot),
		workflowRepo:  NewWorkflowRepository(cleanRoot),
		leadRepo:      NewLeadRepository(cleanRoot),
		replyRepo:     NewReplyRepository(cleanRoot),
		bookingRepo:   NewBookingRepository(cleanRoot),
		actionLogRepo: NewActionLogRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck creates the root directory if needed and verifies it is a directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.root, 0750)
	if err != nil {
		return fmt.Errorf("failed to create persistence root: %w", err)
	}

	info, err := os.Stat(fp.root)
	if err != nil {
		return fmt.Errorf("failed to stat persistence root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("persistence root %s is not a directory", fp.root)
	}

	return nil
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository { return fp.executionRepo }
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository   { return fp.workflowRepo }
func (fp *Persistence) LeadRepository() persistence.LeadRepository           { return fp.leadRepo }
func (fp *Persistence) ReplyRepository() persistence.ReplyRepository         { return fp.replyRepo }
func (fp *Persistence) BookingRepository() persistence.BookingRepository     { return fp.bookingRepo }
func (fp *Persistence) ActionLogRepository() persistence.ActionLogRepository { return fp.actionLogRepo }

// jsonStore keeps one JSON document per record under root/dir/<id>.json.
// Callers hold mu around any read-modify-write sequence.
type jsonStore[T any] struct {
	mu  sync.RWMutex
	dir string
}

func newJSONStore[T any](root, dir string) *jsonStore[T] {
	return &jsonStore[T]{dir: filepath.Join(root, dir)}
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("ID cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("ID contains invalid characters")
	}

	return nil
}

func (s *jsonStore[T]) path(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	return filepath.Join(s.dir, id+".json"), nil
}

func (s *jsonStore[T]) write(id string, record *T) error {
	filePath, err := s.path(id)
	if err != nil {
		return err
	}

	err = os.MkdirAll(s.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	err = os.WriteFile(filePath, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", id, err)
	}

	return nil
}

// read returns an error wrapping fs.ErrNotExist when the record is missing.
func (s *jsonStore[T]) read(id string) (*T, error) {
	filePath, err := s.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath) // #nosec G304 -- filePath is validated and constructed safely
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	var record T

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}

	return &record, nil
}

func (s *jsonStore[T]) all() ([]*T, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*T{}, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", s.dir, err)
	}

	records := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		record, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip invalid files
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

func (s *jsonStore[T]) remove(id string) error {
	filePath, err := s.path(id)
	if err != nil {
		return err
	}

	err = os.Remove(filePath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}

	return nil
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
