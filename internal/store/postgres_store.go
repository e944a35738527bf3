package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopost/internal/engagement"
	"github.com/autopost/internal/platform"
)

// PostgresStore implements EngagementStore, AccountStore and LockStore.
// Every engagement command maps to one narrow UPDATE or INSERT so that two
// writers touching the same row never overwrite each other's fields.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore { return &PostgresStore{pool: pool} }

const engagementColumns = `id, account_id, platform, target_post_id, target_author_id, target_author_handle,
        original_content, status, has_conversation, thread_id, auto_response_enabled, max_auto_responses,
        current_auto_response_count, last_checked_at, consecutive_failures, disabled_reason, disabled_at,
        created_at, updated_at`

func (s *PostgresStore) FindCandidates(ctx context.Context, q CandidateQuery) ([]*engagement.Engagement, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
        SELECT `+engagementColumns+`
        FROM engagements
        WHERE status <> 'disabled'
          AND (NOT has_conversation OR (auto_response_enabled AND current_auto_response_count < max_auto_responses))
          AND ($1 = '' OR account_id = $1)
        ORDER BY last_checked_at ASC NULLS FIRST, id
        LIMIT $2
    `, q.AccountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	out := make([]*engagement.Engagement, 0)
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*engagement.Engagement, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+engagementColumns+` FROM engagements WHERE id = $1`, id)
	e, err := scanEngagement(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, []*engagement.Engagement{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) loadMessages(ctx context.Context, items []*engagement.Engagement) error {
	byID := make(map[string]*engagement.Engagement, len(items))
	ids := make([]string, 0, len(items))
	for _, e := range items {
		if e.Conversation == nil {
			continue
		}
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.pool.Query(ctx, `
        SELECT engagement_id, message_id, author_id, body, sent_at, is_from_us, url
        FROM engagement_messages
        WHERE engagement_id = ANY($1)
        ORDER BY engagement_id, seq
    `, ids)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var engagementID string
		var m engagement.Message
		if err := rows.Scan(&engagementID, &m.ID, &m.AuthorID, &m.Text, &m.Timestamp, &m.IsFromUs, &m.URL); err != nil {
			return err
		}
		if e := byID[engagementID]; e != nil {
			e.Conversation.Messages = append(e.Conversation.Messages, m)
		}
	}
	return rows.Err()
}

func scanEngagement(scanner interface{ Scan(dest ...any) error }) (*engagement.Engagement, error) {
	var e engagement.Engagement
	var status string
	var hasConversation bool
	var conv engagement.Conversation
	if err := scanner.Scan(&e.ID, &e.AccountID, &e.Platform, &e.TargetPostID, &e.TargetAuthorID, &e.TargetAuthorHandle,
		&e.OriginalContent, &status, &hasConversation, &conv.ThreadID, &conv.AutoResponseEnabled, &conv.MaxAutoResponses,
		&conv.CurrentAutoResponseCount, &conv.LastCheckedAt, &conv.ConsecutiveFailures, &conv.DisabledReason, &conv.DisabledAt,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Status = engagement.Status(status)
	if hasConversation {
		e.Conversation = &conv
	}
	return &e, nil
}

func (s *PostgresStore) Apply(ctx context.Context, id string, cmds ...engagement.Command) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, cmd := range cmds {
		if err := applyCommand(ctx, tx, id, cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return tx.Commit(ctx)
}

func applyCommand(ctx context.Context, tx pgx.Tx, id string, cmd engagement.Command) error {
	switch c := cmd.(type) {
	case engagement.InitConversation:
		maxResponses := c.Conversation.MaxAutoResponses
		if maxResponses <= 0 {
			maxResponses = engagement.DefaultMaxAutoResponses
		}
		tag, err := tx.Exec(ctx, `
            UPDATE engagements
            SET has_conversation = true, thread_id = $2, auto_response_enabled = $3, max_auto_responses = $4,
                current_auto_response_count = $5, last_checked_at = $6, consecutive_failures = 0, updated_at = now()
            WHERE id = $1 AND NOT has_conversation
        `, id, c.Conversation.ThreadID, c.Conversation.AutoResponseEnabled, maxResponses,
			c.Conversation.CurrentAutoResponseCount, c.Conversation.LastCheckedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return engagement.ErrConversationExists
		}
		for _, m := range c.Conversation.Messages {
			if err := insertMessage(ctx, tx, id, m); err != nil {
				return err
			}
		}
		return nil
	case engagement.AppendMessage:
		return insertMessage(ctx, tx, id, c.Message)
	case engagement.IncrementResponseCount:
		return expectRow(tx.Exec(ctx, `
            UPDATE engagements
            SET current_auto_response_count = current_auto_response_count + 1, updated_at = now()
            WHERE id = $1 AND has_conversation AND status <> 'disabled'
              AND current_auto_response_count < max_auto_responses
        `, id))(engagement.ErrCapReached)
	case engagement.MarkChecked:
		return expectRow(tx.Exec(ctx, `
            UPDATE engagements SET last_checked_at = $2, updated_at = now()
            WHERE id = $1 AND has_conversation
        `, id, c.At))(engagement.ErrNoConversation)
	case engagement.RecordFailure:
		return expectRow(tx.Exec(ctx, `
            UPDATE engagements SET consecutive_failures = consecutive_failures + 1, updated_at = now()
            WHERE id = $1 AND has_conversation
        `, id))(engagement.ErrNoConversation)
	case engagement.ResetFailures:
		return expectRow(tx.Exec(ctx, `
            UPDATE engagements SET consecutive_failures = 0, updated_at = now()
            WHERE id = $1 AND has_conversation
        `, id))(engagement.ErrNoConversation)
	case engagement.Disable:
		return expectRow(tx.Exec(ctx, `
            UPDATE engagements
            SET status = 'disabled', auto_response_enabled = false, disabled_reason = $2, disabled_at = now(), updated_at = now()
            WHERE id = $1 AND has_conversation
        `, id, c.Reason))(engagement.ErrNoConversation)
	case engagement.SetStatus:
		return expectRow(tx.Exec(ctx, `
            UPDATE engagements SET status = $2, updated_at = now()
            WHERE id = $1 AND status <> 'disabled'
        `, id, string(c.Status)))(engagement.ErrDisabled)
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
}

type rowsAffecter interface{ RowsAffected() int64 }

// expectRow turns a zero-row update into the given sentinel.
func expectRow[T rowsAffecter](tag T, err error) func(error) error {
	return func(onZero error) error {
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return onZero
		}
		return nil
	}
}

func insertMessage(ctx context.Context, tx pgx.Tx, engagementID string, m engagement.Message) error {
	tag, err := tx.Exec(ctx, `
        INSERT INTO engagement_messages (engagement_id, message_id, author_id, body, sent_at, is_from_us, url)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (engagement_id, message_id) DO NOTHING
    `, engagementID, m.ID, m.AuthorID, m.Text, m.Timestamp, m.IsFromUs, m.URL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", engagement.ErrDuplicateMessage, m.ID)
	}
	return nil
}

func (s *PostgresStore) CountSentSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
        SELECT count(*) FROM engagement_messages WHERE is_from_us AND sent_at >= $1
    `, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sent messages: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (platform.Account, error) {
	var a platform.Account
	err := s.pool.QueryRow(ctx, `
        SELECT id, platform, handle, coalesce(platform_user_id, ''), coalesce(access_token, '')
        FROM accounts WHERE id = $1
    `, id).Scan(&a.ID, &a.Platform, &a.Handle, &a.PlatformUserID, &a.AccessToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return platform.Account{}, ErrNotFound
		}
		return platform.Account{}, err
	}
	return a, nil
}

func (s *PostgresStore) TryAcquire(ctx context.Context, name, holder string, now, expiresAt time.Time) (bool, string, error) {
	var got string
	err := s.pool.QueryRow(ctx, `
        INSERT INTO engagement_locks (name, holder, acquired_at, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (name) DO UPDATE
        SET holder = EXCLUDED.holder, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
        WHERE engagement_locks.expires_at <= EXCLUDED.acquired_at
        RETURNING holder
    `, name, holder, now, expiresAt).Scan(&got)
	if err == nil {
		return got == holder, got, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, "", err
	}
	// Conflict with a live record: report who holds it.
	err = s.pool.QueryRow(ctx, `SELECT holder FROM engagement_locks WHERE name = $1`, name).Scan(&got)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, "", err
	}
	return false, got, nil
}

func (s *PostgresStore) Release(ctx context.Context, name, holder string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM engagement_locks WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// PutAccount inserts or updates an account.
func (s *PostgresStore) PutAccount(ctx context.Context, a platform.Account) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO accounts (id, platform, handle, platform_user_id, access_token)
        VALUES ($1, $2, $3, nullif($4, ''), nullif($5, ''))
        ON CONFLICT (id) DO UPDATE
        SET platform = EXCLUDED.platform, handle = EXCLUDED.handle,
            platform_user_id = EXCLUDED.platform_user_id, access_token = EXCLUDED.access_token
    `, a.ID, a.Platform, a.Handle, a.PlatformUserID, a.AccessToken)
	if err != nil {
		return fmt.Errorf("put account %s: %w", a.ID, err)
	}
	return nil
}

// CreateEngagement registers a new engagement without a conversation. An
// existing row for the same account and post is left untouched.
func (s *PostgresStore) CreateEngagement(ctx context.Context, e *engagement.Engagement) (bool, error) {
	status := e.Status
	if status == "" {
		status = engagement.StatusPending
	}
	tag, err := s.pool.Exec(ctx, `
        INSERT INTO engagements (id, account_id, platform, target_post_id, target_author_id,
            target_author_handle, original_content, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT DO NOTHING
    `, e.ID, e.AccountID, e.Platform, e.TargetPostID, e.TargetAuthorID, e.TargetAuthorHandle, e.OriginalContent, string(status))
	if err != nil {
		return false, fmt.Errorf("create engagement %s: %w", e.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}
