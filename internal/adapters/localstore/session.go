package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Beacon/internal/core"
)

type sqlDataSession struct {
	UserID       string `db:"user_id"`
	Email        string `db:"email"`
	RefreshToken []byte `db:"refresh_token"`
	SavedAt      int64  `db:"saved_at"`
}

func (s *Store) SaveSession(ctx context.Context, in core.StoredSession) error {
	box, err := s.sealer.seal([]byte(in.RefreshToken))
	if err != nil {
		return fmt.Errorf("seal session: %w", err)
	}
	savedAt := in.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO session (id, user_id, email, refresh_token, saved_at)
		VALUES (1, :user_id, :email, :refresh_token, :saved_at)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			refresh_token = excluded.refresh_token,
			saved_at = excluded.saved_at`,
		sqlDataSession{UserID: in.UserID, Email: in.Email, RefreshToken: box, SavedAt: savedAt.Unix()})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context) (*core.StoredSession, error) {
	var row sqlDataSession
	err := s.db.GetContext(ctx, &row, `SELECT user_id, email, refresh_token, saved_at FROM session WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	plain, err := s.sealer.open(row.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &core.StoredSession{
		UserID:       row.UserID,
		Email:        row.Email,
		RefreshToken: string(plain),
		SavedAt:      time.Unix(row.SavedAt, 0),
	}, nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
