package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"librarian/internal/models"
	"librarian/internal/storage"
)

// Failures surfaced by the member service.
var (
	ErrNotFound       = errors.New("member not found")
	ErrDuplicateEmail = errors.New("a member with this email already exists")
	ErrInvalid        = errors.New("invalid member")
)

// Service manages member registration and lookup. Members are created once
// and never mutated or deleted by the lending side of the system.
type Service struct {
	db     storage.Storage
	logger *zap.Logger

	now func() time.Time
}

// New creates a member service over the given store.
func New(db storage.Storage, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

func validate(member models.Member) error {
	if strings.TrimSpace(member.FirstName) == "" {
		return fmt.Errorf("%w: first name is required", ErrInvalid)
	}
	if strings.TrimSpace(member.LastName) == "" {
		return fmt.Errorf("%w: last name is required", ErrInvalid)
	}
	email := strings.TrimSpace(member.Email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrInvalid)
	}
	return nil
}

// Register creates a new member. The membership number is assigned by the
// store from a dedicated sequence, never supplied by the caller, so
// concurrent registrations cannot collide.
func (s *Service) Register(ctx context.Context, member models.Member) (models.Member, error) {
	if err := validate(member); err != nil {
		return models.Member{}, err
	}

	member.MembershipNumber = ""
	member.CreatedAt = s.now()

	created, err := s.db.CreateMember(ctx, member)
	if errors.Is(err, storage.ErrDuplicateEmail) {
		return models.Member{}, ErrDuplicateEmail
	}
	if err != nil {
		s.logger.Error("Failed to register member", zap.String("email", member.Email), zap.Error(err))
		return models.Member{}, fmt.Errorf("member register: %w", err)
	}

	s.logger.Info("Member registered",
		zap.Int64("member_id", created.ID),
		zap.String("membership_number", created.MembershipNumber),
	)
	return created, nil
}

// GetByID looks a member up by id, reporting absence via the found flag.
func (s *Service) GetByID(ctx context.Context, id int64) (models.Member, bool, error) {
	member, found, err := s.db.FindMemberByID(ctx, id)
	if err != nil {
		return models.Member{}, false, fmt.Errorf("member get: %w", err)
	}
	return member, found, nil
}

// GetByEmail looks a member up by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (models.Member, bool, error) {
	member, found, err := s.db.FindMemberByEmail(ctx, email)
	if err != nil {
		return models.Member{}, false, fmt.Errorf("member get by email: %w", err)
	}
	return member, found, nil
}

// ListAll returns all members ordered by last name.
func (s *Service) ListAll(ctx context.Context) ([]models.Member, error) {
	all, err := s.db.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("member list: %w", err)
	}
	return all, nil
}

// Search matches the term against names, email and membership number. An
// empty term lists everything.
func (s *Service) Search(ctx context.Context, term string) ([]models.Member, error) {
	found, err := s.db.SearchMembers(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("member search: %w", err)
	}
	return found, nil
}
