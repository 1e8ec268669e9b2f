package access

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-lifecycle/internal/http/response"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

// Service вычисляет решение о доступе пользователя.
type Service interface {
	Decide(ctx context.Context, userID string) (models.AccessDecision, error)
}

// Handler обрабатывает GET /api/v1/access/{user_id}.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP возвращает текущее решение о доступе.
// @Summary Решение о доступе пользователя
// @Description Вычисляет доступ по записи триала и подписке. Результат не кешируется.
// @Tags Access
// @Produce json
// @Param user_id path string true "ID пользователя (UUID)"
// @Success 200 {object} response.Response{data=models.AccessDecision} "Решение о доступе"
// @Failure 400 {object} response.ErrorResponse "Некорректный ID"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /api/v1/access/{user_id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID := chi.URLParam(r, "user_id")
	if err := h.validate.Var(userID, "required,uuid"); err != nil {
		log.Error("invalid user id", slog.String("user_id", userID), sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid user id"))
		return
	}

	decision, err := h.service.Decide(r.Context(), userID)
	if err != nil {
		log.Error("failed to resolve access", sl.UserID(userID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to resolve access"))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.StatusOKWithData(decision))
}
