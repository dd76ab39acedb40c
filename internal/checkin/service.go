package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClientInfo carries request metadata recorded with a submission. It has no
// semantic weight; the server clock alone decides the calendar day.
type ClientInfo struct {
	IP         string
	UserAgent  string
	DeviceHint string
}

// Service enforces submission validation and the one-record-per-matricula-
// per-day invariant. It holds no authoritative state: every decision
// re-reads the backing stores.
type Service struct {
	records RecordStore
	configs ConfigStore
	loc     *time.Location
	now     func() time.Time
}

// NewService creates a service over the given stores. loc is the zone that
// defines the calendar day and the display time; nil means UTC.
func NewService(records RecordStore, configs ConfigStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{records: records, configs: configs, loc: loc, now: time.Now}
}

// Submit validates and persists one check-in. Validation order: accepting
// flag, name, matricula, same-day duplicate. The duplicate pre-check is
// advisory; the store's uniqueness constraint is authoritative, and an
// insert conflict is reported as a DuplicateError as well.
func (s *Service) Submit(ctx context.Context, fullName, matricula string, client ClientInfo) (Record, error) {
	if !s.GetConfig(ctx).Accepting {
		return Record{}, ErrCheckinClosed
	}

	fullName = strings.TrimSpace(fullName)
	if len(strings.Fields(fullName)) < 2 {
		return Record{}, ErrInvalidName
	}

	matricula = strings.TrimSpace(matricula)
	if matricula == "" {
		return Record{}, ErrMissingIdentifier
	}

	now := s.now().UTC()
	date := now.In(s.loc).Format("2006-01-02")

	existing, err := s.records.FindByMatriculaAndDate(ctx, matricula, date)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if existing != nil {
		return Record{}, &DuplicateError{TimeLabel: existing.TimeLabel}
	}

	rec := Record{
		ID:         uuid.NewString(),
		FullName:   fullName,
		Matricula:  matricula,
		Timestamp:  now,
		Date:       date,
		TimeLabel:  now.In(s.loc).Format("15:04"),
		IP:         client.IP,
		UserAgent:  client.UserAgent,
		DeviceHint: client.DeviceHint,
		Status:     StatusRegistered,
	}

	if err := s.records.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrRecordExists) {
			// Lost the race to a concurrent submit; report the winner's time.
			if winner, ferr := s.records.FindByMatriculaAndDate(ctx, matricula, date); ferr == nil && winner != nil {
				return Record{}, &DuplicateError{TimeLabel: winner.TimeLabel}
			}
			return Record{}, &DuplicateError{TimeLabel: rec.TimeLabel}
		}
		return Record{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return rec, nil
}

// GetConfig reads the accepting gate. Never fails the caller: a missing or
// unreadable row masks to the accepting default.
func (s *Service) GetConfig(ctx context.Context) Config {
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		log.Printf("config read failed, using default: %v", err)
		return DefaultConfig()
	}
	return cfg
}

// SetConfig updates the accepting flag and audit fields. Concurrent toggles
// are last-write-wins; the write is a single idempotent boolean.
func (s *Service) SetConfig(ctx context.Context, accepting bool, actor string) (Config, error) {
	cfg, err := s.configs.Update(ctx, Config{
		Accepting: accepting,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: actor,
	})
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return cfg, nil
}

// DeleteRecord removes a record unconditionally by id.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// ListRecords returns every record, newest first.
func (s *Service) ListRecords(ctx context.Context) ([]Record, error) {
	recs, err := s.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return recs, nil
}
