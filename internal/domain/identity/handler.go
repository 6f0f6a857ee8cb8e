package identity

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthsphere/healthsphere/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/users/me", h.Me)
}

// Me returns the directory entry of the authenticated caller.
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	subject := auth.UserIDFromContext(ctx)
	if subject == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	ident, err := h.svc.Resolve(ctx, subject)
	if errors.Is(err, ErrUserNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ident)
}
