// Package store holds the durable task/account records. The in-memory
// registries are a working cache; this is the system of record for
// terminal state.
package store

import (
	"context"
	"errors"

	"mjgate/internal/model"
)

// ErrNotFound is returned for point reads of missing records.
var ErrNotFound = errors.New("store: not found")

// TaskStore persists tasks keyed by id. Point reads must be cheap; the
// orchestrator re-reads records inside bounded wait loops.
type TaskStore interface {
	Get(ctx context.Context, id string) (*model.Task, error)
	Save(ctx context.Context, t *model.Task) error
	Delete(ctx context.Context, id string) error
	GetAllIDs(ctx context.Context) ([]string, error)
	// ListByInstance returns tasks owned by an account, newest first.
	ListByInstance(ctx context.Context, instanceID string, limit int) ([]*model.Task, error)
}

// AccountStore persists pooled account records keyed by account id.
type AccountStore interface {
	Get(ctx context.Context, id string) (*model.Account, error)
	Save(ctx context.Context, a *model.Account) error
	Delete(ctx context.Context, id string) error
	GetAll(ctx context.Context) ([]*model.Account, error)
}
