package transcript

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTranscriptSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTranscriptSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			book_id TEXT NOT NULL,
			chapter_id TEXT NOT NULL DEFAULT '',
			page_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_turns_session_created ON transcript_turns (session_id, created_at ASC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init transcript schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn Turn) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_turns (
			id, session_id, book_id, chapter_id, page_id, role, text, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8
		)
		ON CONFLICT (id) DO UPDATE SET
			session_id=EXCLUDED.session_id,
			book_id=EXCLUDED.book_id,
			chapter_id=EXCLUDED.chapter_id,
			page_id=EXCLUDED.page_id,
			role=EXCLUDED.role,
			text=EXCLUDED.text,
			created_at=EXCLUDED.created_at`,
		turn.ID,
		turn.SessionID,
		turn.BookID,
		turn.ChapterID,
		turn.PageID,
		string(turn.Role),
		turn.Text,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert transcript turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTurnsBySession(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, book_id, chapter_id, page_id, role, text, created_at
		   FROM transcript_turns WHERE session_id=$1 ORDER BY created_at ASC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcript turns: %w", err)
	}
	defer rows.Close()

	out := make([]Turn, 0, limit)
	for rows.Next() {
		var (
			turn Turn
			role string
		)
		if err := rows.Scan(
			&turn.ID,
			&turn.SessionID,
			&turn.BookID,
			&turn.ChapterID,
			&turn.PageID,
			&role,
			&turn.Text,
			&turn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transcript turn: %w", err)
		}
		turn.Role = Role(role)
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript turn rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
