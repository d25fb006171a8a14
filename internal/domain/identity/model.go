package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/medtracker/medtracker/internal/platform/auth"
)

// Role is the closed set of account kinds.
type Role string

const (
	RolePatient   Role = "patient"
	RoleCaretaker Role = "caretaker"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RolePatient, RoleCaretaker:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleCaretaker
}

// CanManageSchedules reports whether the role may create schedules for mapped patients.
func (r Role) CanManageSchedules() bool { return r == RoleCaretaker }

// CanLogIntake reports whether the role may record doses. Only patients own schedules.
func (r Role) CanLogIntake() bool { return r == RolePatient }

// CanMonitor reports whether the role may read other users' data through a mapping.
func (r Role) CanMonitor() bool { return r == RoleCaretaker }

// RoleOf interprets the role carried by a verified principal.
func RoleOf(p auth.Principal) Role {
	return Role(p.Role)
}

// User maps to the users table.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Mapping links a caretaker to a patient they may monitor.
type Mapping struct {
	ID          int64     `db:"id" json:"id"`
	CaretakerID int64     `db:"caretaker_id" json:"caretaker_id"`
	PatientID   int64     `db:"patient_id" json:"patient_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
