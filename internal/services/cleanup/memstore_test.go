package cleanup

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/storage/repository"
)

// memStore — хранилище в памяти с той же семантикой, что и repository.Storage:
// CAS на статусе триала, защита от устаревших событий и откат транзакции.
type memStore struct {
	mu        sync.Mutex
	users     map[string]models.User
	trials    map[string]models.Trial
	customers map[string]string
	subs      map[string]models.Subscription
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]models.User{},
		trials:    map[string]models.Trial{},
		customers: map[string]string{},
		subs:      map[string]models.Subscription{},
	}
}

type memTxKey struct{}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	users, trials := maps.Clone(s.users), maps.Clone(s.trials)
	customers, subs := maps.Clone(s.customers), maps.Clone(s.subs)
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.users, s.trials, s.customers, s.subs = users, trials, customers, subs
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) CreateUser(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return repository.ErrAlreadyExists
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *memStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

func (s *memStore) CreateTrial(_ context.Context, trial models.Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trials[trial.UserID]; ok {
		return repository.ErrAlreadyExists
	}
	s.trials[trial.UserID] = trial
	return nil
}

func (s *memStore) GetTrial(_ context.Context, userID string) (*models.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trials[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *memStore) ListDueTrials(_ context.Context, now time.Time) ([]models.Trial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.Trial
	for _, t := range s.trials {
		if (t.Status == models.TrialActive || t.Status == models.TrialExpired) && !t.TrialEnd.After(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (s *memStore) TransitionTrial(_ context.Context, userID string, from, to models.TrialStatus,
	deletionScheduledAt *time.Time, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if (to == models.TrialScheduledForDeletion) != (deletionScheduledAt != nil) {
		return false, fmt.Errorf("check constraint violated for %s", to)
	}
	t, ok := s.trials[userID]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.DeletionScheduledAt = deletionScheduledAt
	t.UpdatedAt = at
	s.trials[userID] = t
	return true, nil
}

func (s *memStore) ListDeletionCandidates(_ context.Context) ([]models.DeletionCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.DeletionCandidate
	for _, t := range s.trials {
		if t.Status != models.TrialScheduledForDeletion {
			continue
		}
		result = append(result, models.DeletionCandidate{
			UserID:              t.UserID,
			Email:               s.users[t.UserID].Email,
			DeletionScheduledAt: *t.DeletionScheduledAt,
		})
	}
	return result, nil
}

func (s *memStore) GetSubscriptionByUser(_ context.Context, userID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Subscription
	for _, sub := range s.subs {
		if sub.UserID != userID {
			continue
		}
		if best == nil ||
			(sub.Status.Protecting() && !best.Status.Protecting()) ||
			(sub.Status.Protecting() == best.Status.Protecting() && sub.LastEventAt.After(best.LastEventAt)) {
			best = &sub
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (s *memStore) PurgeBilling(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.UserID == userID {
			delete(s.subs, id)
		}
	}
	for id, uid := range s.customers {
		if uid == userID {
			delete(s.customers, id)
		}
	}
	return nil
}

func (s *memStore) GetCustomerUserID(_ context.Context, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.customers[customerID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return uid, nil
}

func (s *memStore) LinkCustomer(_ context.Context, customerID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customerID] = userID
	return nil
}

func (s *memStore) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok, nil
}

func (s *memStore) UpsertSubscription(_ context.Context, sub models.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.subs[sub.CustomerID]; ok && cur.LastEventAt.After(sub.LastEventAt) {
		return false, nil
	}
	s.subs[sub.CustomerID] = sub
	return true, nil
}

// trialOf возвращает копию записи триала или пустую запись.
func (s *memStore) trialOf(userID string) models.Trial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trials[userID]
}

func (s *memStore) hasUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[userID]
	return ok
}

// scheduleInvariantHolds проверяет, что дата удаления заполнена
// ровно у записей в статусе scheduled_for_deletion.
func (s *memStore) scheduleInvariantHolds() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trials {
		if (t.Status == models.TrialScheduledForDeletion) != (t.DeletionScheduledAt != nil) {
			return false
		}
	}
	return true
}
