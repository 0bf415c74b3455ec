// Package profiles implements hostel.ProfileStore on top of bun.
package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
	"github.com/uptrace/bun"
)

// Store reads and writes the profiles table.
type Store struct {
	db             bun.IDB
	region         string
	now            func() time.Time
	logger         hostel.Logger
	loggerProvider hostel.LoggerProvider
}

var _ hostel.ProfileStore = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithLogger overrides the logger.
func WithLogger(logger hostel.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.loggerProvider, s.logger = hostel.ResolveLogger("hostel.profiles", nil, logger)
		}
	}
}

// WithLoggerProvider resolves the "hostel.profiles" logger from provider.
func WithLoggerProvider(provider hostel.LoggerProvider) Option {
	return func(s *Store) {
		s.loggerProvider, s.logger = hostel.ResolveLogger("hostel.profiles", provider, s.logger)
	}
}

// WithPhoneRegion sets the region used to parse phone numbers without a
// country prefix.
func WithPhoneRegion(region string) Option {
	return func(s *Store) {
		if region = strings.TrimSpace(region); region != "" {
			s.region = strings.ToUpper(region)
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore returns a Store over db.
func NewStore(db bun.IDB, opts ...Option) *Store {
	provider, logger := hostel.ResolveLogger("hostel.profiles", nil, nil)
	s := &Store{
		db:             db,
		region:         DefaultPhoneRegion,
		now:            time.Now,
		logger:         logger,
		loggerProvider: provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateSchema creates the profiles table when missing.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*hostel.UserProfile)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profiles table")
	}
	return nil
}

// FetchProfileByID returns the full row, or nil when there is none.
func (s *Store) FetchProfileByID(ctx context.Context, id string) (*hostel.UserProfile, error) {
	return s.FetchProfileFields(ctx, id)
}

// FetchProfileFields returns a row with only fields loaded, plus the id. No
// fields means every column.
func (s *Store) FetchProfileFields(ctx context.Context, id string, fields ...string) (*hostel.UserProfile, error) {
	columns, err := selectColumns(fields)
	if err != nil {
		return nil, err
	}

	record := &hostel.UserProfile{}
	query := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1)
	if len(columns) > 0 {
		query = query.Column(columns...)
	}

	if err := query.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		s.logger.Error("profile select failed", "subject", id, "error", err)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to select profile").
			WithMetadata(map[string]any{"subject": id})
	}

	return record, nil
}

// InsertProfile stores a new row. The phone is normalized to E.164 when it
// parses.
func (s *Store) InsertProfile(ctx context.Context, profile *hostel.UserProfile) error {
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return goerrors.New("profile id is required", goerrors.CategoryBadInput)
	}

	record := profile.Clone()
	if record.Phone != "" {
		if phone, err := NormalizePhone(record.Phone, s.region); err == nil {
			record.Phone = phone
		} else {
			s.logger.Debug("keeping phone as given", "subject", record.ID, "error", err)
		}
	}
	if record.ApprovalStatus == "" {
		record.ApprovalStatus = record.Role.DefaultApproval()
	}

	now := s.now().UTC()
	record.CreatedAt = &now
	record.UpdatedAt = &now

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "profile already exists").
				WithCode(goerrors.CodeConflict).
				WithMetadata(map[string]any{"subject": record.ID})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert profile").
			WithMetadata(map[string]any{"subject": record.ID})
	}

	profile.Phone = record.Phone
	profile.ApprovalStatus = record.ApprovalStatus
	profile.CreatedAt = record.CreatedAt
	profile.UpdatedAt = record.UpdatedAt
	return nil
}

// SetApproval records an administrator decision. The rejection reason is
// kept only for rejected profiles.
func (s *Store) SetApproval(ctx context.Context, id string, status hostel.ApprovalStatus, reason string) (*hostel.UserProfile, error) {
	if !status.IsValid() {
		return nil, goerrors.New(fmt.Sprintf("invalid approval status %q", status), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	if status != hostel.ApprovalRejected {
		reason = ""
	}

	res, err := s.db.NewUpdate().
		Model((*hostel.UserProfile)(nil)).
		Set("approval_status = ?", status).
		Set("rejection_reason = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", s.now().UTC()).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update approval status")
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, goerrors.New("profile not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"subject": id})
	}

	s.logger.Info("profile approval updated", "subject", id, "status", status)

	return s.FetchProfileByID(ctx, id)
}

// ListFilter narrows ListProfiles. Zero values match everything.
type ListFilter struct {
	Role     hostel.Role
	Status   hostel.ApprovalStatus
	HostelID string
	Limit    int
}

// ListProfiles returns profiles ordered by creation time, then id.
func (s *Store) ListProfiles(ctx context.Context, filter ListFilter) ([]*hostel.UserProfile, error) {
	records := []*hostel.UserProfile{}
	query := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.id ASC")

	if filter.Role != "" {
		query = query.Where("?TableAlias.role = ?", filter.Role)
	}
	if filter.Status != "" {
		query = query.Where("?TableAlias.approval_status = ?", filter.Status)
	}
	if filter.HostelID != "" {
		query = query.Where("?TableAlias.hostel_id = ?", filter.HostelID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list profiles")
	}
	return records, nil
}

func selectColumns(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	known := map[string]bool{}
	for _, column := range hostel.ProfileColumns() {
		known[column] = true
	}

	columns := []string{hostel.ColumnID}
	seen := map[string]bool{hostel.ColumnID: true}
	for _, field := range fields {
		field = strings.ToLower(strings.TrimSpace(field))
		if !known[field] {
			return nil, goerrors.New(fmt.Sprintf("unknown profile field %q", field), goerrors.CategoryBadInput).
				WithCode(goerrors.CodeBadRequest)
		}
		if seen[field] {
			continue
		}
		seen[field] = true
		columns = append(columns, field)
	}
	return columns, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "sqlstate 23505")
}
