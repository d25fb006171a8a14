// Package access decides whether a principal may read or act on another
// user's medication data.
//
// A user always reaches their own data. A caretaker reaches a patient's data
// only through an explicit mapping. Nobody else reaches anything, and a
// refusal looks the same whether or not the target exists.
package access

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/domain/identity"
	"github.com/medtracker/medtracker/internal/platform/apperr"
	"github.com/medtracker/medtracker/internal/platform/auth"
)

// MappingLookup is the part of identity.MappingRepository the checker needs.
type MappingLookup interface {
	Exists(ctx context.Context, caretakerID, patientID int64) (bool, error)
}

// DenialRecorder is notified of every refusal.
type DenialRecorder interface {
	AccessDenial()
}

type Checker struct {
	mappings MappingLookup
	denials  DenialRecorder
}

func NewChecker(mappings MappingLookup, denials DenialRecorder) *Checker {
	return &Checker{mappings: mappings, denials: denials}
}

// CanAccess reports whether p may act on targetUserID's data. A lookup
// failure is returned as an error and never as permission.
func (c *Checker) CanAccess(ctx context.Context, p auth.Principal, targetUserID int64) (bool, error) {
	if p.UserID == targetUserID {
		return true, nil
	}
	if !identity.RoleOf(p).CanMonitor() {
		return false, nil
	}
	ok, err := c.mappings.Exists(ctx, p.UserID, targetUserID)
	if err != nil {
		return false, apperr.FromDB(err, "")
	}
	return ok, nil
}

// Authorize is CanAccess expressed as an error: nil when allowed, an
// authorization error when refused.
func (c *Checker) Authorize(ctx context.Context, p auth.Principal, targetUserID int64) error {
	ok, err := c.CanAccess(ctx, p, targetUserID)
	if err != nil {
		return err
	}
	if !ok {
		if c.denials != nil {
			c.denials.AccessDenial()
		}
		zerolog.Ctx(ctx).Info().
			Int64("user_id", p.UserID).
			Int64("target_user_id", targetUserID).
			Msg("access denied")
		return apperr.Forbidden("access denied")
	}
	return nil
}
