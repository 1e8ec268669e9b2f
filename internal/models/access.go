package models

// AccessType — источник права доступа пользователя.
type AccessType string

const (
	AccessPaidSubscription AccessType = "paid_subscription"
	AccessStripeTrial      AccessType = "stripe_trial"
	AccessFreeTrial        AccessType = "free_trial"
	AccessNone             AccessType = "no_access"
)

// AccessDecision — вычисляемое решение о доступе. Не хранится и не кешируется,
// пересчитывается при каждом чтении.
type AccessDecision struct {
	HasAccess           bool       `json:"has_access"`
	AccessType          AccessType `json:"access_type"`
	SecondsRemaining    int64      `json:"seconds_remaining"`
	DaysRemaining       int64      `json:"days_remaining"`
	NeedsReconciliation bool       `json:"needs_reconciliation,omitempty"`
}
