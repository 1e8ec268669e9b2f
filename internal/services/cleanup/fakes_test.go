package cleanup

import (
	"context"
	"errors"
	"sync"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/workspace"
)

// fakeWorkspace хранит аккаунты по имени пользователя.
type fakeWorkspace struct {
	mu        sync.Mutex
	accounts  map[string]workspace.Account
	opens     int
	openErr   error
	deleteErr map[string]error
	findErr   error
	deleted   []string
}

func newFakeWorkspace(usernames ...string) *fakeWorkspace {
	w := &fakeWorkspace{accounts: map[string]workspace.Account{}, deleteErr: map[string]error{}}
	for _, u := range usernames {
		w.accounts[u] = workspace.Account{ID: "ws-" + u, Username: u, IsActive: true}
	}
	return w
}

func (w *fakeWorkspace) Open(_ context.Context) (Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opens++
	if w.openErr != nil {
		return nil, w.openErr
	}
	return &fakeSession{w: w}, nil
}

func (w *fakeWorkspace) has(username string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.accounts[username]
	return ok
}

type fakeSession struct {
	w      *fakeWorkspace
	closed bool
}

func (s *fakeSession) FindUser(_ context.Context, username string) (*workspace.Account, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if s.closed {
		return nil, workspace.ErrUnauthorized
	}
	if s.w.findErr != nil {
		return nil, s.w.findErr
	}
	acc, ok := s.w.accounts[username]
	if !ok {
		return nil, workspace.ErrNotFound
	}
	return &acc, nil
}

func (s *fakeSession) DeleteUser(_ context.Context, id string) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if s.closed {
		return workspace.ErrUnauthorized
	}
	if err := s.w.deleteErr[id]; err != nil {
		return err
	}
	for name, acc := range s.w.accounts {
		if acc.ID == id {
			delete(s.w.accounts, name)
			s.w.deleted = append(s.w.deleted, id)
		}
	}
	return nil
}

func (s *fakeSession) Close() {
	s.closed = true
}

// recordingPublisher запоминает опубликованные отчёты.
type recordingPublisher struct {
	reports []models.CleanupReport
	err     error
}

func (p *recordingPublisher) PublishCleanupReport(_ context.Context, report models.CleanupReport) error {
	if p.err != nil {
		return p.err
	}
	p.reports = append(p.reports, report)
	return nil
}

var errWorkspaceDown = errors.New("workspace unavailable")
