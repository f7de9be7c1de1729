// Package pgstore is a concrete store.Store backed by PostgreSQL via pgx.
// It is a supporting adapter, not part of the orchestration core: every
// core package depends only on the store.Store interface.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quel-drawcore/internal/model"
	"quel-drawcore/internal/store"
)

// Store implements store.Store over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-configured pool. Callers build the pool with
// pgxpool.New(ctx, dsn) themselves so connection lifecycle stays with main.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, parent_id, action, status, bot_family, backend_family, mode,
       prompt, prompt_en, description, image_url, image_urls, buttons,
       properties, submit_time, start_time, finish_time, fail_reason,
       progress, seed, instance_id, sub_instance_id, account_filter
FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, model.Wrap(model.ErrStorage, err.Error())
	}
	return t, nil
}

// SaveTask upserts a task; last write wins.
func (s *Store) SaveTask(ctx context.Context, t *model.Task) error {
	buttons, err := json.Marshal(t.Buttons)
	if err != nil {
		return model.Wrap(model.ErrStorage, err.Error())
	}
	props, err := json.Marshal(t.Properties)
	if err != nil {
		return model.Wrap(model.ErrStorage, err.Error())
	}
	filter, err := json.Marshal(t.AccountFilter)
	if err != nil {
		return model.Wrap(model.ErrStorage, err.Error())
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO tasks (id, parent_id, action, status, bot_family, backend_family, mode,
                    prompt, prompt_en, description, image_url, image_urls, buttons,
                    properties, submit_time, start_time, finish_time, fail_reason,
                    progress, seed, instance_id, sub_instance_id, account_filter)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
ON CONFLICT (id) DO UPDATE SET
  parent_id = EXCLUDED.parent_id, action = EXCLUDED.action, bot_family = EXCLUDED.bot_family,
  backend_family = EXCLUDED.backend_family, prompt = EXCLUDED.prompt, prompt_en = EXCLUDED.prompt_en,
  submit_time = EXCLUDED.submit_time, account_filter = EXCLUDED.account_filter,
  status = EXCLUDED.status, mode = EXCLUDED.mode, description = EXCLUDED.description,
  image_url = EXCLUDED.image_url, image_urls = EXCLUDED.image_urls, buttons = EXCLUDED.buttons,
  properties = EXCLUDED.properties, start_time = EXCLUDED.start_time, finish_time = EXCLUDED.finish_time,
  fail_reason = EXCLUDED.fail_reason, progress = EXCLUDED.progress, seed = EXCLUDED.seed,
  instance_id = EXCLUDED.instance_id, sub_instance_id = EXCLUDED.sub_instance_id`,
		t.ID, t.ParentID, t.Action, t.Status, t.BotFamily, t.BackendFamily, t.Mode,
		t.Prompt, t.PromptEn, t.Description, t.ImageURL, t.ImageURLs, buttons,
		props, t.SubmitTime, t.StartTime, t.FinishTime, t.FailReason,
		t.Progress, t.Seed, t.InstanceID, t.SubInstanceID, filter,
	)
	if err != nil {
		return model.Wrap(model.ErrStorage, err.Error())
	}
	return nil
}

// DeleteTask removes a task record.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return model.Wrap(model.ErrStorage, err.Error())
	}
	return nil
}

// ListTasks runs a predicate filter with an order clause.
func (s *Store) ListTasks(ctx context.Context, f store.Filter, orderBy string, asc bool, limit int) ([]*model.Task, error) {
	q, args := filterQuery(f)
	if orderBy == "" {
		orderBy = "submit_time"
	}
	dir := "DESC"
	if asc {
		dir = "ASC"
	}
	q += fmt.Sprintf(" ORDER BY %s %s", pgx.Identifier{orderBy}.Sanitize(), dir)
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, model.Wrap(model.ErrStorage, err.Error())
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, model.Wrap(model.ErrStorage, err.Error())
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTasks counts rows matching f.
func (s *Store) CountTasks(ctx context.Context, f store.Filter) (int, error) {
	q, args := whereClause(f, "SELECT count(*) FROM tasks WHERE 1=1")
	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, model.Wrap(model.ErrStorage, err.Error())
	}
	return n, nil
}

func filterQuery(f store.Filter) (string, []any) {
	return whereClause(f, `SELECT id, parent_id, action, status, bot_family, backend_family, mode,
       prompt, prompt_en, description, image_url, image_urls, buttons,
       properties, submit_time, start_time, finish_time, fail_reason,
       progress, seed, instance_id, sub_instance_id, account_filter
FROM tasks WHERE 1=1`)
}

func whereClause(f store.Filter, q string) (string, []any) {
	var args []any
	add := func(col string, val any) {
		args = append(args, val)
		q += fmt.Sprintf(" AND %s = $%d", col, len(args))
	}
	if f.ID != "" {
		add("id", f.ID)
	}
	if f.ParentID != "" {
		add("parent_id", f.ParentID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.InstanceID != "" {
		add("instance_id", f.InstanceID)
	}
	if f.SubInstanceID != "" {
		add("sub_instance_id", f.SubInstanceID)
	}
	if f.Action != "" {
		add("action", f.Action)
	}
	if f.BackendFamily != "" {
		add("backend_family", f.BackendFamily)
	}
	if f.Nonce != "" {
		q += fmt.Sprintf(" AND properties->>'nonce' = $%d", len(args)+1)
		args = append(args, f.Nonce)
	}
	if f.MessageID != "" {
		q += fmt.Sprintf(" AND properties->>'messageId' = $%d", len(args)+1)
		args = append(args, f.MessageID)
	}
	return q, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var buttons, props, filter []byte
	err := row.Scan(
		&t.ID, &t.ParentID, &t.Action, &t.Status, &t.BotFamily, &t.BackendFamily, &t.Mode,
		&t.Prompt, &t.PromptEn, &t.Description, &t.ImageURL, &t.ImageURLs, &buttons,
		&props, &t.SubmitTime, &t.StartTime, &t.FinishTime, &t.FailReason,
		&t.Progress, &t.Seed, &t.InstanceID, &t.SubInstanceID, &filter,
	)
	if err != nil {
		return nil, err
	}
	if len(buttons) > 0 {
		if err := json.Unmarshal(buttons, &t.Buttons); err != nil {
			return nil, err
		}
	}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &t.Properties); err != nil {
			return nil, err
		}
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &t.AccountFilter); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// ListAccounts and GetAccount read the accounts table, one row per channel
// id with the rest of model.Account folded into a single jsonb column —
// the account shape has too many nested maps/slices (QueueSize, Enabled,
// SubChannels, ...) to be worth a column per field, the same call the
// tasks table makes for Properties/Buttons/AccountFilter. Administration
// of that table (who edits it, and how) happens through the out-of-scope
// admin UI; the adapter only needs to read what it is given.

func (s *Store) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM accounts`)
	if err != nil {
		return nil, model.Wrap(model.ErrStorage, err.Error())
	}
	defer rows.Close()

	var out []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, model.Wrap(model.ErrStorage, err.Error())
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, channelID string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT data FROM accounts WHERE channel_id = $1`, channelID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, model.Wrap(model.ErrStorage, err.Error())
	}
	return a, nil
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var a model.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListDomainKeywords(ctx context.Context) ([]*model.KeywordSet, error) {
	return s.listKeywords(ctx, true)
}

func (s *Store) ListBannedKeywords(ctx context.Context) ([]*model.KeywordSet, error) {
	return s.listKeywords(ctx, false)
}

func (s *Store) listKeywords(ctx context.Context, domain bool) ([]*model.KeywordSet, error) {
	table := "banned_keyword_sets"
	if domain {
		table = "domain_keyword_sets"
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, keywords, enabled FROM %s`, pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return nil, model.Wrap(model.ErrStorage, err.Error())
	}
	defer rows.Close()

	var out []*model.KeywordSet
	for rows.Next() {
		var ks model.KeywordSet
		if err := rows.Scan(&ks.ID, &ks.Keywords, &ks.Enabled); err != nil {
			return nil, model.Wrap(model.ErrStorage, err.Error())
		}
		out = append(out, &ks)
	}
	return out, rows.Err()
}
