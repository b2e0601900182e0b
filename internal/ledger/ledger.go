// Package ledger persists the agent identity and the services/tasks to verify.
//
// Every mutation is a read-modify-write of the whole record performed by a
// Backend under an exclusive lock, so concurrent callers never interleave
// partial writes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when the ledger record does not exist
	ErrNotFound = errors.New("ledger not found")

	// ErrMalformed is returned when the persisted record cannot be parsed
	ErrMalformed = errors.New("ledger malformed")

	// ErrAlreadyExists is returned by Create when a record is already present
	ErrAlreadyExists = errors.New("ledger already exists")

	// ErrInvalidEntry is returned for entry names that cannot be stored
	ErrInvalidEntry = errors.New("invalid ledger entry")
)

// List names one of the two entry lists
type List string

const (
	// Services holds the names of services to verify
	Services List = "services"
	// Tasks holds the names of processes to verify
	Tasks List = "tasks"
)

// ParseList converts a list name from user input
func ParseList(s string) (List, error) {
	switch List(strings.ToLower(strings.TrimSpace(s))) {
	case Services:
		return Services, nil
	case Tasks:
		return Tasks, nil
	default:
		return "", fmt.Errorf("unknown ledger list %q (must be services or tasks)", s)
	}
}

// Record is the persisted ledger content.
// Lists may contain blank entries read from older files until Compact runs.
type Record struct {
	AgentID  uuid.UUID
	Services []string
	Tasks    []string
}

// NewRecord returns a record with a fresh random identity and empty lists
func NewRecord() *Record {
	return &Record{
		AgentID:  uuid.New(),
		Services: []string{},
		Tasks:    []string{},
	}
}

func (r *Record) list(l List) *[]string {
	if l == Tasks {
		return &r.Tasks
	}
	return &r.Services
}

// Backend stores a single Record
type Backend interface {
	// Exists reports whether a record is present
	Exists(ctx context.Context) (bool, error)

	// Load reads the record. Returns ErrNotFound or ErrMalformed.
	Load(ctx context.Context) (*Record, error)

	// Init writes rec when no record exists. Returns ErrAlreadyExists otherwise.
	Init(ctx context.Context, rec *Record) error

	// Update loads the record, applies fn and persists the result when fn
	// reports a change. The whole sequence holds the backend lock.
	Update(ctx context.Context, fn func(rec *Record) (changed bool, err error)) error

	Close() error
}

// ValidateEntry rejects names that would corrupt the marker layout or be unmatchable
func ValidateEntry(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is blank", ErrInvalidEntry)
	}
	if strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("%w: name must be a single line", ErrInvalidEntry)
	}
	if strings.HasPrefix(name, markerPrefix) {
		return fmt.Errorf("%w: name must not start with %q", ErrInvalidEntry, markerPrefix)
	}
	return nil
}

// visible returns the entries with blank lines hidden
func visible(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) != "" {
			out = append(out, e)
		}
	}
	return out
}

// compactEntries drops blank and duplicate entries, keeping first occurrences
func compactEntries(entries []string) []string {
	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e) == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
