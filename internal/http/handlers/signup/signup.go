package signup

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-lifecycle/internal/http/response"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	signupservice "github.com/magabrotheeeer/trial-lifecycle/internal/services/signup"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/trial"
)

// Service регистрирует пользователя с пробным периодом.
type Service interface {
	Register(ctx context.Context, req models.SignupRequest) (*signupservice.Result, error)
}

// Handler обрабатывает POST /api/v1/trials.
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

// ServeHTTP регистрирует пользователя и запускает пробный период.
// @Summary Регистрация пользователя с пробным периодом
// @Description Создаёт учётную запись и запись триала, затем аккаунт во внешнем сервисе рабочих пространств.
// @Tags Trials
// @Accept json
// @Produce json
// @Param request body models.SignupRequest true "Данные регистрации"
// @Success 201 {object} response.Response{data=signup.Result} "Пользователь зарегистрирован"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 409 {object} response.ErrorResponse "Пользователь уже существует"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Слишком много запросов"
// @Failure 500 {object} response.ErrorResponse "Внутренняя ошибка"
// @Router /api/v1/trials [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.signup"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err))
		return
	}

	res, err := h.service.Register(r.Context(), req)
	if errors.Is(err, trial.ErrTrialExists) {
		log.Info("user already registered")
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("user already exists"))
		return
	}
	if err != nil {
		log.Error("failed to register user", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to register user"))
		return
	}

	log.Info("user registered", sl.UserID(res.UserID), slog.Bool("workspace_provisioned", res.WorkspaceProvisioned))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(res))
}
