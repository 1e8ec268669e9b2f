// Package stripewebhook принимает вебхуки платёжного процессора Stripe,
// проверяет подпись и передаёт события синхронизатору подписок.
package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/trial-lifecycle/internal/http/response"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/metrics"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/subscription"
)

const bodyLimit = 1024 * 1024

// Synchronizer применяет события подписки и привязывает клиентов к пользователям.
type Synchronizer interface {
	ApplyEvent(ctx context.Context, ev models.SubscriptionEvent) (subscription.Outcome, error)
	LinkCustomer(ctx context.Context, userID, customerID string) error
}

// Handler обрабатывает POST /api/v1/webhooks/stripe.
type Handler struct {
	log    *slog.Logger
	sync   Synchronizer
	secret string
}

// New создаёт Handler. secret берётся из конфига.
func New(log *slog.Logger, sync Synchronizer, secret string) *Handler {
	return &Handler{
		log:    log,
		sync:   sync,
		secret: secret,
	}
}

type checkoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	ClientReferenceID string `json:"client_reference_id"`
}

type subscriptionItem struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID string `json:"id"`
	} `json:"price"`
}

type stripeSubscription struct {
	ID                   string          `json:"id"`
	Customer             string          `json:"customer"`
	Status               string          `json:"status"`
	CancelAtPeriodEnd    bool            `json:"cancel_at_period_end"`
	CurrentPeriodStart   int64           `json:"current_period_start"`
	CurrentPeriodEnd     int64           `json:"current_period_end"`
	DefaultPaymentMethod json.RawMessage `json:"default_payment_method"`
	Items                struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`
}

type paymentMethod struct {
	Card struct {
		Brand string `json:"brand"`
		Last4 string `json:"last4"`
	} `json:"card"`
}

// ServeHTTP проверяет подпись и обрабатывает событие.
// @Summary Вебхук Stripe
// @Description Принимает события checkout.session.completed и customer.subscription.*. Остальные типы игнорируются.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Подпись Stripe"
// @Success 200 {object} response.Response "Событие обработано"
// @Failure 400 {object} response.ErrorResponse "Неверная подпись или тело события"
// @Failure 422 {object} response.ErrorResponse "Клиент или пользователь не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка хранилища"
// @Router /api/v1/webhooks/stripe [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.stripewebhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to read request body"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Error("invalid stripe signature", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	log = log.With(slog.String("event_id", event.ID), slog.String("event_type", string(event.Type)))

	outcome, err := h.handle(r.Context(), &event)
	switch {
	case errors.Is(err, subscription.ErrInvalidEvent):
		log.Error("invalid event payload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid event payload"))
		return
	case errors.Is(err, subscription.ErrUnknownCustomer):
		log.Warn("event for unknown customer", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("unknown customer"))
		return
	case errors.Is(err, subscription.ErrUnknownUser):
		log.Warn("event references unknown user", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("unknown user"))
		return
	case err != nil:
		log.Error("failed to process event", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("failed to process event"))
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"outcome": outcome,
	}))
}

func (h *Handler) handle(ctx context.Context, event *stripelib.Event) (subscription.Outcome, error) {
	eventType := string(event.Type)
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch {
	case eventType == "checkout.session.completed":
		var session checkoutSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return "", fmt.Errorf("%w: decode checkout session: %v", subscription.ErrInvalidEvent, err)
		}
		if session.ClientReferenceID == "" || session.Customer == "" {
			h.log.Info("checkout session without user reference ignored", slog.String("session_id", session.ID))
			return h.ignored(), nil
		}
		if err := h.sync.LinkCustomer(ctx, session.ClientReferenceID, session.Customer); err != nil {
			return "", err
		}
		return subscription.OutcomeLinked, nil

	case strings.HasPrefix(eventType, "customer.subscription."):
		var sub stripeSubscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return "", fmt.Errorf("%w: decode subscription: %v", subscription.ErrInvalidEvent, err)
		}
		return h.sync.ApplyEvent(ctx, toEvent(event, sub))

	default:
		return h.ignored(), nil
	}
}

func (h *Handler) ignored() subscription.Outcome {
	metrics.Get().SubscriptionEvent(string(subscription.OutcomeIgnored))
	return subscription.OutcomeIgnored
}

func toEvent(event *stripelib.Event, sub stripeSubscription) models.SubscriptionEvent {
	ev := models.SubscriptionEvent{
		ID:                 event.ID,
		Type:               string(event.Type),
		CustomerID:         sub.Customer,
		SubscriptionID:     sub.ID,
		Status:             models.SubscriptionStatus(sub.Status),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		OccurredAt:         unixTime(event.Created),
	}

	// Новые версии API переносят границы периода в позиции подписки.
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		ev.PriceID = item.Price.ID
		if ev.CurrentPeriodStart.IsZero() {
			ev.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		}
		if ev.CurrentPeriodEnd.IsZero() {
			ev.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}

	// default_payment_method раскрыт в объект только при expand, иначе это строка ID.
	var pm paymentMethod
	if len(sub.DefaultPaymentMethod) > 0 && sub.DefaultPaymentMethod[0] == '{' &&
		json.Unmarshal(sub.DefaultPaymentMethod, &pm) == nil {
		ev.PaymentMethodBrand = pm.Card.Brand
		ev.PaymentMethodLast4 = pm.Card.Last4
	}
	return ev
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
