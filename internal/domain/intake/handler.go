package intake

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telecare/intake/internal/domain/questionnaire"
	"github.com/telecare/intake/internal/platform/auth"
	"github.com/telecare/intake/internal/platform/backend"
	"github.com/telecare/intake/internal/platform/middleware"
	"github.com/telecare/intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the patient session routes on sessions and the draft
// maintenance routes on admin.
func (h *Handler) RegisterRoutes(sessions *echo.Group, admin *echo.Group) {
	sessions.POST("/sessions", h.OpenSession)
	sessions.GET("/sessions/:id", h.GetSession)
	sessions.DELETE("/sessions/:id", h.CloseSession)
	sessions.POST("/sessions/:id/next", h.Next)
	sessions.POST("/sessions/:id/previous", h.Previous)
	sessions.PATCH("/sessions/:id/answers", h.UpdateAnswers)
	sessions.PUT("/sessions/:id/consent", h.SetConsent)
	sessions.PUT("/sessions/:id/photo", h.SetPhoto)
	sessions.PUT("/sessions/:id/products", h.SelectProducts)
	sessions.PUT("/sessions/:id/shipping", h.SetShipping)
	sessions.POST("/sessions/:id/sign-in", h.SignIn)
	sessions.POST("/sessions/:id/checkout", h.Checkout)

	adminGroup := admin.Group("", auth.RequireRole("admin"))
	adminGroup.GET("/drafts", h.ListDrafts)
	adminGroup.DELETE("/drafts/:questionnaireId", h.DeleteDraft)
	adminGroup.POST("/drafts/purge", h.PurgeDrafts)
}

// toHTTPError maps service errors onto status codes.
func toHTTPError(err error) error {
	var verr *ValidationError
	var perr *PaymentError
	var terr *TransitionError
	var aerr *backend.APIError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "validation failed",
			"fields":  verr.Fields,
		})
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrPaymentLocked),
		errors.Is(err, ErrNotAtCheckout),
		errors.As(err, &terr):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &perr):
		return echo.NewHTTPError(http.StatusPaymentRequired, perr.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request exceeded the time limit").SetInternal(err)
	case errors.As(err, &aerr):
		if aerr.StatusCode >= 400 && aerr.StatusCode < 500 && aerr.Message != "" {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, aerr.Message)
		}
		return echo.NewHTTPError(http.StatusBadGateway, "clinic backend unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

type openRequest struct {
	QuestionnaireID string `json:"questionnaireId"`
	FormID          string `json:"formId"`
	ResumeToken     string `json:"resumeToken"`
}

func (h *Handler) OpenSession(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	v, err := h.svc.Open(ctx, OpenRequest{
		QuestionnaireID: req.QuestionnaireID,
		FormID:          req.FormID,
		UserID:          auth.UserIDFromContext(ctx),
		Token:           auth.TokenFromContext(ctx),
		ResumeToken:     req.ResumeToken,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetSession(c echo.Context) error {
	v, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CloseSession(c echo.Context) error {
	abandon := c.QueryParam("abandon") == "true"
	if err := h.svc.Close(c.Request().Context(), c.Param("id"), abandon); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Next(c echo.Context) error {
	v, err := h.svc.Next(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Previous(c echo.Context) error {
	v, err := h.svc.Previous(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateAnswers(c echo.Context) error {
	var req struct {
		Answers questionnaire.Answers `json:"answers"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.UpdateAnswers(c.Request().Context(), c.Param("id"), req.Answers)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetConsent(c echo.Context) error {
	var req struct {
		Accepted bool `json:"accepted"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.SetConsent(c.Request().Context(), c.Param("id"), req.Accepted)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetPhoto(c echo.Context) error {
	var req struct {
		Data string `json:"data"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.SetPhoto(c.Request().Context(), c.Param("id"), req.Data)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SelectProducts(c echo.Context) error {
	var req struct {
		Quantities map[string]int  `json:"quantities"`
		Toggles    map[string]bool `json:"toggles"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.SelectProducts(c.Request().Context(), c.Param("id"), req.Quantities, req.Toggles)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SetShipping(c echo.Context) error {
	var info ShippingInfo
	if err := c.Bind(&info); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	middleware.SanitizeFields(&info.Address, &info.Apartment, &info.City, &info.State, &info.ZipCode, &info.Country)
	v, err := h.svc.SetShipping(c.Request().Context(), c.Param("id"), info)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) SignIn(c echo.Context) error {
	var req SignInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.SignIn(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Checkout(c echo.Context) error {
	var req struct {
		PaymentMethodID string `json:"paymentMethodId"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.Checkout(c.Request().Context(), c.Param("id"), req.PaymentMethodID)
	var perr *PaymentError
	if errors.As(err, &perr) && v != nil {
		return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
			"message": perr.Message,
			"session": v,
		})
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListDrafts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDrafts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) DeleteDraft(c echo.Context) error {
	key := DraftKey{
		QuestionnaireID: c.Param("questionnaireId"),
		FormID:          c.QueryParam("formId"),
		Owner:           c.QueryParam("owner"),
	}
	if key.Owner == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "owner is required")
	}
	if err := h.svc.DeleteDraft(c.Request().Context(), key); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PurgeDrafts(c echo.Context) error {
	n, err := h.svc.PurgeDrafts(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"purged": n})
}
