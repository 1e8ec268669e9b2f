// Package cleanup содержит HTTP-обработчик запуска задачи очистки истёкших триалов.
package cleanup

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/trial-lifecycle/internal/http/response"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

// Service запускает один проход очистки.
type Service interface {
	Run(ctx context.Context) (models.CleanupReport, error)
}

// Handler обрабатывает POST /cleanup.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP запускает задачу очистки и возвращает отчёт.
// @Summary Запуск очистки истёкших триалов
// @Description Переводит истёкшие триалы по статусам и удаляет аккаунты, стоящие в очереди на удаление. Тело запроса игнорируется.
// @Tags Cleanup
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.CleanupReport "Отчёт очистки"
// @Failure 401 {object} response.ErrorResponse "Неверный служебный токен"
// @Failure 405 {object} response.ErrorResponse "Метод не поддерживается"
// @Failure 500 {object} response.ErrorResponse "Очистка прервана"
// @Router /cleanup [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.cleanup"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, response.Error("Method not allowed"))
		return
	}

	report, err := h.service.Run(r.Context())
	if err != nil {
		log.Error("cleanup run failed", sl.Err(err), slog.Int("processed", report.Processed))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}

	log.Info("cleanup run finished",
		slog.Int("processed", report.Processed),
		slog.Int("skipped", report.Skipped),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, report)
}
