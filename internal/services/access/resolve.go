// Package access вычисляет право доступа пользователя по записи триала
// и записи подписки. Решение не хранится и пересчитывается при каждом запросе.
package access

import (
	"time"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

const secondsPerDay = 24 * 60 * 60

// Resolve вычисляет решение о доступе без обращения к хранилищу. Оба аргумента могут быть nil.
//
// Порядок проверки: активная подписка, пробный период процессора, собственный
// пробный период, затем converted_to_paid без защищающей подписки. Последний
// случай означает рассинхронизацию: доступ сохраняется, но решение помечается
// NeedsReconciliation.
func Resolve(now time.Time, trial *models.Trial, sub *models.Subscription) models.AccessDecision {
	if sub != nil {
		switch sub.Status {
		case models.SubscriptionActive:
			return granted(models.AccessPaidSubscription, remainingUntil(now, sub.CurrentPeriodEnd))
		case models.SubscriptionTrialing:
			return granted(models.AccessStripeTrial, remainingUntil(now, sub.CurrentPeriodEnd))
		}
	}

	if trial != nil {
		if trial.Status == models.TrialActive && now.Before(trial.TrialEnd) {
			return granted(models.AccessFreeTrial, remainingUntil(now, &trial.TrialEnd))
		}
		if trial.Status == models.TrialConvertedToPaid && !protectionLost(sub) {
			d := granted(models.AccessPaidSubscription, 0)
			d.NeedsReconciliation = true
			return d
		}
	}

	return models.AccessDecision{AccessType: models.AccessNone}
}

// protectionLost сообщает, что процессор явно сообщил статус без защиты.
// Отсутствие подписки или not_started потерей не считаются.
func protectionLost(sub *models.Subscription) bool {
	return sub != nil && sub.Status != models.SubscriptionNotStarted
}

func granted(t models.AccessType, seconds int64) models.AccessDecision {
	return models.AccessDecision{
		HasAccess:        true,
		AccessType:       t,
		SecondsRemaining: seconds,
		DaysRemaining:    seconds / secondsPerDay,
	}
}

func remainingUntil(now time.Time, end *time.Time) int64 {
	if end == nil {
		return 0
	}
	left := end.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}
