package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
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
	if err := initCollabSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initCollabSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collaboration_sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			host_user_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			session_code TEXT NOT NULL UNIQUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			max_participants INTEGER NOT NULL DEFAULT 10,
			participants JSONB NOT NULL DEFAULT '[]',
			current_file TEXT NOT NULL DEFAULT '',
			shared_code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			last_activity TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_collab_sessions_host_active ON collaboration_sessions (host_user_id, is_active);`,
		`CREATE TABLE IF NOT EXISTS collaboration_invites (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			inviter_user_id TEXT NOT NULL,
			invitee_email TEXT NOT NULL DEFAULT '',
			invitee_user_id TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			responded_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_collab_invites_session_status ON collaboration_invites (session_id, status);`,
		`CREATE TABLE IF NOT EXISTS collaboration_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			description TEXT NOT NULL,
			data JSONB NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_collab_events_session_created ON collaboration_events (session_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init collab schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE id=$1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Session{}, ErrStoreNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSessionByCode(ctx context.Context, code string) (Session, error) {
	row := s.pool.QueryRow(ctx, sessionSelect+` WHERE session_code=$1`, code)
	sess, err := scanSession(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Session{}, ErrStoreNotFound
		}
		return Session{}, fmt.Errorf("get session by code: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) FindSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query := sessionSelect + ` WHERE ($1 = '' OR host_user_id = $1 OR participants @> $2)
		AND (NOT $3 OR is_active)
		ORDER BY created_at DESC LIMIT $4`
	memberFilter := "[]"
	if q.UserID != "" {
		memberFilter = fmt.Sprintf(`[{"user_id":%q}]`, q.UserID)
	}
	rows, err := s.pool.Query(ctx, query, q.UserID, memberFilter, q.ActiveOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0, limit)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess Session) error {
	participants, err := json.Marshal(sess.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO collaboration_sessions (
			id, name, description, host_user_id, project_id, session_code, is_active,
			max_participants, participants, current_file, shared_code, created_at, ended_at, last_activity
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name,
			description=EXCLUDED.description,
			is_active=EXCLUDED.is_active,
			max_participants=EXCLUDED.max_participants,
			participants=EXCLUDED.participants,
			current_file=EXCLUDED.current_file,
			shared_code=EXCLUDED.shared_code,
			ended_at=EXCLUDED.ended_at,
			last_activity=EXCLUDED.last_activity`,
		sess.ID,
		sess.Name,
		sess.Description,
		sess.HostUserID,
		sess.ProjectID,
		sess.SessionCode,
		sess.IsActive,
		sess.MaxParticipants,
		participants,
		sess.CurrentFile,
		sess.SharedCode,
		sess.CreatedAt,
		sess.EndedAt,
		sess.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertInvite(ctx context.Context, inv Invite) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collaboration_invites (
			id, session_id, inviter_user_id, invitee_email, invitee_user_id, message,
			role, status, created_at, expires_at, responded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		inv.ID,
		inv.SessionID,
		inv.InviterUserID,
		inv.InviteeEmail,
		inv.InviteeUserID,
		inv.Message,
		string(inv.Role),
		string(inv.Status),
		inv.CreatedAt,
		inv.ExpiresAt,
		inv.RespondedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, id string) (Invite, error) {
	row := s.pool.QueryRow(ctx, inviteSelect+` WHERE id=$1`, id)
	inv, err := scanInvite(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Invite{}, ErrStoreNotFound
		}
		return Invite{}, fmt.Errorf("get invite: %w", err)
	}
	return inv, nil
}

func (s *PostgresStore) FindInvites(ctx context.Context, inviteeUserID, inviteeEmail string) ([]Invite, error) {
	rows, err := s.pool.Query(ctx,
		inviteSelect+` WHERE ($1 <> '' AND invitee_user_id=$1) OR ($2 <> '' AND invitee_email=$2)
			ORDER BY created_at DESC`,
		inviteeUserID, inviteeEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("find invites: %w", err)
	}
	defer rows.Close()

	out := make([]Invite, 0, 4)
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite row: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invite rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveInvite(ctx context.Context, inv Invite) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE collaboration_invites SET
			invitee_user_id=$2, status=$3, responded_at=$4
		 WHERE id=$1`,
		inv.ID,
		inv.InviteeUserID,
		string(inv.Status),
		inv.RespondedAt,
	)
	if err != nil {
		return fmt.Errorf("update invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e Event) error {
	var data []byte
	if e.Data != nil {
		var err error
		data, err = json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collaboration_events (id, session_id, user_id, event_type, description, data, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID,
		e.SessionID,
		e.UserID,
		string(e.EventType),
		e.Description,
		data,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, user_id, event_type, description, data, created_at
		   FROM collaboration_events WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e         Event
			eventType string
			data      []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &eventType, &e.Description, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.EventType = EventType(eventType)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const sessionSelect = `SELECT id, name, description, host_user_id, project_id, session_code, is_active,
	max_participants, participants, current_file, shared_code, created_at, ended_at, last_activity
	FROM collaboration_sessions`

const inviteSelect = `SELECT id, session_id, inviter_user_id, invitee_email, invitee_user_id, message,
	role, status, created_at, expires_at, responded_at
	FROM collaboration_invites`

func scanSession(row pgx.Row) (Session, error) {
	var (
		sess         Session
		participants []byte
	)
	if err := row.Scan(
		&sess.ID,
		&sess.Name,
		&sess.Description,
		&sess.HostUserID,
		&sess.ProjectID,
		&sess.SessionCode,
		&sess.IsActive,
		&sess.MaxParticipants,
		&participants,
		&sess.CurrentFile,
		&sess.SharedCode,
		&sess.CreatedAt,
		&sess.EndedAt,
		&sess.LastActivity,
	); err != nil {
		return Session{}, err
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &sess.Participants); err != nil {
			return Session{}, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	return sess, nil
}

func scanInvite(row pgx.Row) (Invite, error) {
	var (
		inv    Invite
		role   string
		status string
	)
	if err := row.Scan(
		&inv.ID,
		&inv.SessionID,
		&inv.InviterUserID,
		&inv.InviteeEmail,
		&inv.InviteeUserID,
		&inv.Message,
		&role,
		&status,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&inv.RespondedAt,
	); err != nil {
		return Invite{}, err
	}
	inv.Role = Role(role)
	inv.Status = InviteStatus(status)
	return inv, nil
}
