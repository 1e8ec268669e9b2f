package cleanup

import (
	"context"

	"github.com/magabrotheeeer/trial-lifecycle/internal/workspace"
)

type workspaceClient struct {
	c *workspace.Client
}

// NewWorkspace адаптирует клиента внешнего сервиса к интерфейсу Workspace.
func NewWorkspace(c *workspace.Client) Workspace {
	return workspaceClient{c: c}
}

func (w workspaceClient) Open(ctx context.Context) (Session, error) {
	s, err := w.c.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
