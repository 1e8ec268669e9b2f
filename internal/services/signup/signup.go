// Package signup регистрирует пользователя: учётная запись и пробный период
// в системе идентификации, затем аккаунт во внешнем сервисе рабочих пространств.
package signup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/password"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/workspace"
)

// TrialCreator создаёт пользователя вместе с записью триала.
type TrialCreator interface {
	Create(ctx context.Context, user models.User) (*models.Trial, error)
}

// Provisioner открывает сессию внешнего сервиса для создания аккаунта.
type Provisioner interface {
	Open(ctx context.Context) (Session, error)
}

// Session часть сессии внешнего сервиса, нужная для создания аккаунта.
type Session interface {
	CreateUser(ctx context.Context, username, password string) (*workspace.Account, error)
	Close()
}

// Result — итог регистрации.
type Result struct {
	UserID               string    `json:"user_id"`
	TrialEnd             time.Time `json:"trial_end"`
	WorkspaceProvisioned bool      `json:"workspace_provisioned"`
}

// Service регистрирует пользователей.
type Service struct {
	trials      TrialCreator
	provisioner Provisioner
	log         *slog.Logger
}

// New создаёт Service. provisioner может быть nil: тогда внешний аккаунт не создаётся.
func New(trials TrialCreator, provisioner Provisioner, log *slog.Logger) *Service {
	return &Service{trials: trials, provisioner: provisioner, log: log}
}

// Register создаёт пользователя и триал. Ошибка создания внешнего аккаунта
// не отменяет регистрацию и отражается в WorkspaceProvisioned.
func (s *Service) Register(ctx context.Context, req models.SignupRequest) (*Result, error) {
	const op = "signup.Register"

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	trial, err := s.trials.Create(ctx, models.User{Email: req.Email, PasswordHash: hash})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &Result{UserID: trial.UserID, TrialEnd: trial.TrialEnd}
	if err := s.provision(ctx, req.Email, req.Password); err != nil {
		s.log.Warn("workspace provisioning failed", sl.UserID(trial.UserID), sl.Err(err))
	} else if s.provisioner != nil {
		res.WorkspaceProvisioned = true
	}
	return res, nil
}

func (s *Service) provision(ctx context.Context, email, pass string) error {
	if s.provisioner == nil {
		return nil
	}
	session, err := s.provisioner.Open(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	_, err = session.CreateUser(ctx, email, pass)
	return err
}

type workspaceClient struct {
	c *workspace.Client
}

// NewProvisioner адаптирует клиента внешнего сервиса к интерфейсу Provisioner.
func NewProvisioner(c *workspace.Client) Provisioner {
	return workspaceClient{c: c}
}

func (w workspaceClient) Open(ctx context.Context) (Session, error) {
	s, err := w.c.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
