package models

import "time"

// SubscriptionStatus — статус подписки в платёжном процессоре.
type SubscriptionStatus string

const (
	SubscriptionNotStarted        SubscriptionStatus = "not_started"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionPaused            SubscriptionStatus = "paused"
)

// Protecting возвращает true для статусов, которые гарантируют доступ
// и запрещают автоматическое удаление аккаунта.
func (s SubscriptionStatus) Protecting() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// Known сообщает, входит ли статус в перечень статусов процессора.
func (s SubscriptionStatus) Known() bool {
	switch s {
	case SubscriptionNotStarted, SubscriptionIncomplete, SubscriptionIncompleteExpired,
		SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue,
		SubscriptionCanceled, SubscriptionUnpaid, SubscriptionPaused:
		return true
	default:
		return false
	}
}

// Subscription — каноническая запись подписки клиента платёжного процессора.
// LastEventAt хранит время последнего применённого события и используется
// для отбрасывания событий, пришедших не по порядку.
type Subscription struct {
	CustomerID         string             `json:"customer_id"`
	UserID             string             `json:"user_id"`
	SubscriptionID     *string            `json:"subscription_id"`
	PriceID            *string            `json:"price_id"`
	Status             SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodStart *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	PaymentMethodBrand *string            `json:"payment_method_brand"`
	PaymentMethodLast4 *string            `json:"payment_method_last4"`
	LastEventAt        time.Time          `json:"last_event_at"`
}

// SubscriptionEvent — событие жизненного цикла подписки после проверки подписи
// на границе сервиса. Поля валидируются перед применением.
type SubscriptionEvent struct {
	ID                 string             `validate:"required"`
	Type               string             `validate:"required"`
	CustomerID         string             `validate:"required"`
	SubscriptionID     string             `validate:"required"`
	PriceID            string
	Status             SubscriptionStatus `validate:"required"`
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	PaymentMethodBrand string
	PaymentMethodLast4 string
	OccurredAt         time.Time `validate:"required"`
}
