package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/medtracker/medtracker/internal/platform/apperr"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/pkg/pagination"
)

type Service struct {
	users    UserRepository
	mappings MappingRepository
}

func NewService(users UserRepository, mappings MappingRepository) *Service {
	return &Service{users: users, mappings: mappings}
}

// -- Users --

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Username == "" {
		return apperr.Validation("username is required")
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return apperr.Validation("a valid email is required")
	}
	if !u.Role.Valid() {
		return apperr.Validation("role must be patient or caretaker")
	}

	err := apperr.FromDB(s.users.Create(ctx, u), "")
	if errors.Is(err, apperr.ErrConflict) {
		return apperr.Conflict("email already registered")
	}
	return err
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.FromDB(err, "user not found")
	}
	return u, nil
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, apperr.FromDB(err, "user not found")
	}
	return u, nil
}

// -- Mappings --

// CreateMapping lets caretakerID monitor patientID. Both accounts must exist
// and hold the matching roles.
func (s *Service) CreateMapping(ctx context.Context, caretakerID, patientID int64) (*Mapping, error) {
	caretaker, err := s.users.GetByID(ctx, caretakerID)
	if err != nil {
		return nil, notFoundAsValidation(err, "caretaker does not exist")
	}
	if !caretaker.Role.CanMonitor() {
		return nil, apperr.Validation("user %d is not a caretaker", caretakerID)
	}

	patient, err := s.users.GetByID(ctx, patientID)
	if err != nil {
		return nil, notFoundAsValidation(err, "patient does not exist")
	}
	if patient.Role != RolePatient {
		return nil, apperr.Validation("user %d is not a patient", patientID)
	}

	m := &Mapping{CaretakerID: caretakerID, PatientID: patientID}
	err = apperr.FromDB(s.mappings.Create(ctx, m), "")
	if errors.Is(err, apperr.ErrConflict) {
		return nil, apperr.Conflict("mapping already exists")
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// AssignedPatients lists the patients mapped to the calling caretaker.
func (s *Service) AssignedPatients(ctx context.Context, p auth.Principal, pg pagination.Params) ([]*User, int, error) {
	if !RoleOf(p).CanMonitor() {
		return nil, 0, apperr.Forbidden("only caretakers have assigned patients")
	}
	users, total, err := s.mappings.ListPatients(ctx, p.UserID, pg.Limit, pg.Offset)
	if err != nil {
		return nil, 0, apperr.FromDB(err, "")
	}
	return users, total, nil
}

func notFoundAsValidation(err error, msg string) error {
	err = apperr.FromDB(err, msg)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Validation("%s", msg)
	}
	return err
}
