package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medtracker/medtracker/internal/platform/apperr"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	caretakers := api.Group("", auth.RequireRole(string(RoleCaretaker)))
	caretakers.GET("/patients", h.ListAssignedPatients)
}

func (h *Handler) ListAssignedPatients(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	users, total, err := h.svc.AssignedPatients(c.Request().Context(), p, pg)
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewPage(users, total, pg))
}
