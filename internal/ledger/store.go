package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store exposes the ledger operations on top of a Backend
type Store struct {
	backend Backend
	logger  *zap.Logger
}

// NewStore wraps backend
func NewStore(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// Open creates a Store for the named backend ("file" or "sqlite") at path
func Open(kind, path string, logger *zap.Logger) (*Store, error) {
	var (
		backend Backend
		err     error
	)

	switch kind {
	case BackendFile, "":
		backend, err = NewFileBackend(path)
	case BackendSQLite:
		backend, err = NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", kind)
	}
	if err != nil {
		return nil, err
	}

	return NewStore(backend, logger), nil
}

// Create writes a new record with a random identity and empty lists.
// Returns ErrAlreadyExists without touching an existing record.
func (s *Store) Create(ctx context.Context) (uuid.UUID, error) {
	rec := NewRecord()
	if err := s.backend.Init(ctx, rec); err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("Created ledger", zap.String("agent_id", rec.AgentID.String()))
	return rec.AgentID, nil
}

// EnsureCreated creates the record when missing and returns the agent identity
func (s *Store) EnsureCreated(ctx context.Context) (uuid.UUID, error) {
	id, err := s.Create(ctx)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return uuid.Nil, err
	}
	return s.AgentID(ctx)
}

// Exists reports whether a record is present
func (s *Store) Exists(ctx context.Context) (bool, error) {
	return s.backend.Exists(ctx)
}

// Load returns the full record with blank entries hidden
func (s *Store) Load(ctx context.Context) (*Record, error) {
	rec, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	rec.Services = visible(rec.Services)
	rec.Tasks = visible(rec.Tasks)
	return rec, nil
}

// AgentID returns the persisted identity
func (s *Store) AgentID(ctx context.Context) (uuid.UUID, error) {
	rec, err := s.backend.Load(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return rec.AgentID, nil
}

// Services returns the services to verify
func (s *Store) Services(ctx context.Context) ([]string, error) {
	return s.Entries(ctx, Services)
}

// Tasks returns the process names to verify
func (s *Store) Tasks(ctx context.Context) ([]string, error) {
	return s.Entries(ctx, Tasks)
}

// Entries returns the non-blank entries of list l in stored order
func (s *Store) Entries(ctx context.Context, l List) ([]string, error) {
	rec, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	return visible(*rec.list(l)), nil
}

// AddService appends name to the services list unless already present
func (s *Store) AddService(ctx context.Context, name string) error {
	return s.Add(ctx, Services, name)
}

// AddTask appends name to the tasks list unless already present
func (s *Store) AddTask(ctx context.Context, name string) error {
	return s.Add(ctx, Tasks, name)
}

// RemoveService removes every exact match of name from the services list
func (s *Store) RemoveService(ctx context.Context, name string) error {
	return s.Remove(ctx, Services, name)
}

// RemoveTask removes every exact match of name from the tasks list
func (s *Store) RemoveTask(ctx context.Context, name string) error {
	return s.Remove(ctx, Tasks, name)
}

// Add appends name to list l unless an identical entry is already present
func (s *Store) Add(ctx context.Context, l List, name string) error {
	if err := ValidateEntry(name); err != nil {
		return err
	}

	added := false
	err := s.backend.Update(ctx, func(rec *Record) (bool, error) {
		entries := rec.list(l)
		for _, e := range *entries {
			if e == name {
				return false, nil
			}
		}
		*entries = append(*entries, name)
		added = true
		return true, nil
	})
	if err != nil {
		return err
	}

	if added {
		s.logger.Info("Added ledger entry", zap.String("list", string(l)), zap.String("name", name))
	}
	return nil
}

// Remove deletes every entry of list l equal to name. Absent names are a no-op.
func (s *Store) Remove(ctx context.Context, l List, name string) error {
	if err := ValidateEntry(name); err != nil {
		return err
	}

	removed := 0
	err := s.backend.Update(ctx, func(rec *Record) (bool, error) {
		entries := rec.list(l)
		kept := make([]string, 0, len(*entries))
		for _, e := range *entries {
			if e == name {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if removed == 0 {
			return false, nil
		}
		*entries = kept
		return true, nil
	})
	if err != nil {
		return err
	}

	if removed > 0 {
		s.logger.Info("Removed ledger entry",
			zap.String("list", string(l)),
			zap.String("name", name),
			zap.Int("occurrences", removed))
	}
	return nil
}

// Compact drops blank and duplicate entries from both lists
func (s *Store) Compact(ctx context.Context) error {
	dropped := 0
	err := s.backend.Update(ctx, func(rec *Record) (bool, error) {
		services := compactEntries(rec.Services)
		tasks := compactEntries(rec.Tasks)
		dropped = len(rec.Services) - len(services) + len(rec.Tasks) - len(tasks)
		if dropped == 0 {
			return false, nil
		}
		rec.Services = services
		rec.Tasks = tasks
		return true, nil
	})
	if err != nil {
		return err
	}

	if dropped > 0 {
		s.logger.Info("Compacted ledger", zap.Int("dropped_entries", dropped))
	}
	return nil
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
