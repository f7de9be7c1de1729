// Package store defines the small repository interface the orchestration
// core depends on for task, account, and keyword-set persistence. Concrete
// adapters (see internal/store/pgstore) live outside the core; the core
// never imports a specific storage driver.
package store

import (
	"context"

	"quel-drawcore/internal/model"
)

// Filter selects tasks by equality on the named fields. A zero-value field
// is not filtered on.
type Filter struct {
	ID            string
	ParentID      string
	Status        model.Status
	InstanceID    string
	SubInstanceID string
	Action        model.Action
	BackendFamily model.BackendFamily
	Nonce         string
	MessageID     string
}

// TaskStore is the C1 Task Store contract. Implementations must make Save
// last-writer-wins; callers are responsible for holding the task-level lock
// (internal/lock) around read-modify-write sequences.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	SaveTask(ctx context.Context, t *model.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, f Filter, orderBy string, asc bool, limit int) ([]*model.Task, error)
	CountTasks(ctx context.Context, f Filter) (int, error)
}

// AccountStore is the persistence side of the account registry (C2 reads
// through this at startup and on refresh).
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	GetAccount(ctx context.Context, channelID string) (*model.Account, error)
}

// KeywordStore persists the domain and banned-word dictionaries.
type KeywordStore interface {
	ListDomainKeywords(ctx context.Context) ([]*model.KeywordSet, error)
	ListBannedKeywords(ctx context.Context) ([]*model.KeywordSet, error)
}

// Store is the union the orchestration core is constructed with.
type Store interface {
	TaskStore
	AccountStore
	KeywordStore
}

// ErrNotFound is returned by GetTask/GetAccount when the id is unknown.
var ErrNotFound = model.Wrap(model.ErrNotFound, "not found")
