package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record statuses.
const (
	StatusRegistered = "registrado"
	StatusDuplicate  = "duplicado"
)

// Record is one attendance submission.
type Record struct {
	ID         string    `json:"id"`
	FullName   string    `json:"nome_completo"`
	Matricula  string    `json:"matricula"`
	Timestamp  time.Time `json:"timestamp"`
	Date       string    `json:"data"` // YYYY-MM-DD, partition key for daily uniqueness
	TimeLabel  string    `json:"hora"` // HH:MM, display only
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	DeviceHint string    `json:"device_hint"`
	Status     string    `json:"status"`
}

// Config is the singleton gate controlling whether submissions are accepted.
type Config struct {
	Accepting bool      `json:"checkin_enabled"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// DefaultConfig is returned whenever the config row is absent or unreadable.
// Fail-open: a store outage never blocks check-in collection.
func DefaultConfig() Config {
	return Config{Accepting: true, UpdatedAt: time.Now().UTC(), UpdatedBy: "system"}
}

// Submission errors.
var (
	ErrCheckinClosed      = errors.New("check-in is closed")
	ErrInvalidName        = errors.New("full name must contain at least two words")
	ErrMissingIdentifier  = errors.New("matricula is required")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRecordExists is returned by a RecordStore when an insert hits the
	// (matricula, data) uniqueness constraint.
	ErrRecordExists = errors.New("record already exists for matricula and date")
)

// DuplicateError reports a same-day duplicate submission, carrying the
// time label of the record that already exists.
type DuplicateError struct {
	TimeLabel string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("matricula already checked in today at %s", e.TimeLabel)
}

// RecordStore is the contract for check-in record persistence.
type RecordStore interface {
	// List returns all records ordered by timestamp descending.
	List(ctx context.Context) ([]Record, error)
	// Insert persists a new record. Returns ErrRecordExists when a record
	// for the same (matricula, date) already exists.
	Insert(ctx context.Context, rec Record) error
	// Delete removes a record by id. Deleting a nonexistent id is not an error.
	Delete(ctx context.Context, id string) error
	// FindByMatriculaAndDate returns the record for the given matricula on
	// the given date, or nil when none exists.
	FindByMatriculaAndDate(ctx context.Context, matricula, date string) (*Record, error)
}

// ConfigStore is the contract for the config singleton.
type ConfigStore interface {
	Get(ctx context.Context) (Config, error)
	Update(ctx context.Context, cfg Config) (Config, error)
}
