package medication

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medtracker/medtracker/internal/domain/identity"
	"github.com/medtracker/medtracker/internal/platform/apperr"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/pkg/caldate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/medications")
	g.GET("/daily", h.GetDaily)
	g.POST("/mark-taken", h.MarkTaken)
	g.GET("/adherence", h.GetAdherence)
	g.GET("/logs", h.ListLogs)
	g.GET("/tablets", h.ListTablets)
	g.GET("/photos/:ref", h.GetPhoto)

	caretakers := g.Group("", auth.RequireRole(string(identity.RoleCaretaker)))
	caretakers.POST("/schedule", h.AddSchedule)
}

func (h *Handler) GetDaily(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	day, err := requiredDate(c, "date")
	if err != nil {
		return err
	}
	target, err := targetUser(c, p)
	if err != nil {
		return err
	}
	entries, err := h.svc.ResolveDaily(c.Request().Context(), p, target, day)
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) AddSchedule(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	var in AddScheduleInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.svc.AddSchedule(c.Request().Context(), p, in)
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

// MarkTaken accepts either a JSON body or a multipart form carrying the same
// fields plus an optional "photo" file.
func (h *Handler) MarkTaken(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}

	var in MarkTakenInput
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		in, err = markTakenFromForm(c)
		if err != nil {
			return err
		}
		file, ferr := c.FormFile("photo")
		if ferr == nil {
			src, err := file.Open()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded photo")
			}
			defer src.Close()
			in.Photo = &PhotoUpload{
				FileName:    file.Filename,
				ContentType: file.Header.Get(echo.HeaderContentType),
				Content:     src,
			}
		} else if !errors.Is(ferr, http.ErrMissingFile) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid photo upload")
		}
	} else if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.svc.MarkTaken(c.Request().Context(), p, in)
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

func markTakenFromForm(c echo.Context) (MarkTakenInput, error) {
	var in MarkTakenInput
	bad := func(field string) error {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", field))
	}

	if v := c.FormValue("schedule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return in, bad("schedule_id")
		}
		in.ScheduleID = id
	}
	if v := c.FormValue("log_date"); v != "" {
		d, err := caldate.Parse(v)
		if err != nil {
			return in, bad("log_date")
		}
		in.LogDate = d
	}
	if v := c.FormValue("is_taken"); v != "" {
		taken, err := strconv.ParseBool(v)
		if err != nil {
			return in, bad("is_taken")
		}
		in.IsTaken = &taken
	}
	if v := c.FormValue("taken_at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return in, bad("taken_at")
		}
		in.TakenAt = &at
	}
	return in, nil
}

func (h *Handler) GetAdherence(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	start, end, err := requiredPeriod(c)
	if err != nil {
		return err
	}
	target, err := targetUser(c, p)
	if err != nil {
		return err
	}
	report, err := h.svc.ComputeAdherence(c.Request().Context(), p, target, start, end)
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListLogs(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	start, end, err := requiredPeriod(c)
	if err != nil {
		return err
	}
	target, err := targetUser(c, p)
	if err != nil {
		return err
	}
	entries, err := h.svc.ListLogs(c.Request().Context(), p, target, start, end)
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) ListTablets(c echo.Context) error {
	tablets, err := h.svc.ListTablets(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	if tablets == nil {
		tablets = []*Tablet{}
	}
	return c.JSON(http.StatusOK, tablets)
}

func (h *Handler) GetPhoto(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	rc, meta, err := h.svc.OpenPhoto(c.Request().Context(), p, c.Param("ref"))
	if err != nil {
		return apperr.HTTPError(c, err)
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// -- query helpers --

func requiredDate(c echo.Context, name string) (caldate.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		return caldate.Date{}, echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	d, err := caldate.Parse(v)
	if err != nil {
		return caldate.Date{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be YYYY-MM-DD", name))
	}
	return d, nil
}

func requiredPeriod(c echo.Context) (caldate.Date, caldate.Date, error) {
	start, err := requiredDate(c, "start_date")
	if err != nil {
		return caldate.Date{}, caldate.Date{}, err
	}
	end, err := requiredDate(c, "end_date")
	if err != nil {
		return caldate.Date{}, caldate.Date{}, err
	}
	return start, end, nil
}

// targetUser reads the optional user_id query parameter, defaulting to the
// caller.
func targetUser(c echo.Context, p auth.Principal) (int64, error) {
	v := c.QueryParam("user_id")
	if v == "" {
		return p.UserID, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "user_id must be a positive integer")
	}
	return id, nil
}
