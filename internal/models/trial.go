// Package models содержит доменные структуры жизненного цикла пробного периода:
// запись триала, запись подписки платёжного процессора, решение о доступе
// и отчёт задачи очистки. Структуры используются в бизнес-логике, хранилище
// и HTTP-обработчиках.
package models

import "time"

// TrialStatus — состояние записи пробного периода.
type TrialStatus string

const (
	// TrialActive — пробный период идёт.
	TrialActive TrialStatus = "active"
	// TrialExpired — пробный период закончился, подписки нет.
	TrialExpired TrialStatus = "expired"
	// TrialConvertedToPaid — пользователь защищён подпиской, автоматическое удаление запрещено.
	TrialConvertedToPaid TrialStatus = "converted_to_paid"
	// TrialScheduledForDeletion — аккаунт стоит в очереди на удаление.
	TrialScheduledForDeletion TrialStatus = "scheduled_for_deletion"
	// TrialDeleted — аккаунт удалён в обеих системах.
	TrialDeleted TrialStatus = "deleted"
)

// Protectable сообщает, можно ли перевести запись в converted_to_paid.
// Удалённые аккаунты защитить уже нельзя.
func (s TrialStatus) Protectable() bool {
	switch s {
	case TrialActive, TrialExpired, TrialScheduledForDeletion, TrialConvertedToPaid:
		return true
	default:
		return false
	}
}

// Trial представляет запись пробного периода пользователя.
// DeletionScheduledAt заполнено тогда и только тогда, когда Status = scheduled_for_deletion.
type Trial struct {
	UserID              string      `json:"user_id"`
	TrialStart          time.Time   `json:"trial_start"`
	TrialEnd            time.Time   `json:"trial_end"`
	Status              TrialStatus `json:"trial_status"`
	DeletionScheduledAt *time.Time  `json:"deletion_scheduled_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// DeletionCandidate — пользователь в статусе scheduled_for_deletion вместе с email,
// по которому ищется аккаунт во внешнем сервисе.
type DeletionCandidate struct {
	UserID              string
	Email               string
	DeletionScheduledAt time.Time
}
