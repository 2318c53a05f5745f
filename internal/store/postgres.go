package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// uniqueViolation reports whether err is a Postgres unique-constraint
// failure (SQLSTATE 23505). With the deferred position constraints this can
// surface from Commit rather than from the insert itself.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users and memberships

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, avatar_url, password_hash)
		VALUES ($1, LOWER($2), $3, $4, $5)
	`, user.ID, user.Email, user.DisplayName, user.AvatarURL, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, avatar_url, password_hash, created_at
		FROM users WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.AvatarURL, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, avatar_url, password_hash, created_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.AvatarURL, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, org_id, org_name, role, created_at
		FROM org_memberships
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.UserID, &m.OrgID, &m.OrgName, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID, orgID string) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, org_id, org_name, role, created_at
		FROM org_memberships
		WHERE user_id = $1 AND org_id = $2
	`, userID, orgID).Scan(&m.UserID, &m.OrgID, &m.OrgName, &m.Role, &m.CreatedAt)
	if err != nil {
		return Membership{}, err
	}
	return m, nil
}

func (s *PostgresStore) EnsureMembership(ctx context.Context, userID, orgID, orgName, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_memberships (user_id, org_id, org_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, org_id) DO NOTHING
	`, userID, orgID, orgName, role)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// Refresh sessions and access-token revocation (Postgres fallback when no
// redis store is configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.avatar_url
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.AvatarURL)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Boards

const boardColumns = `id, org_id, title, image_id, image_thumb_url, image_full_url, image_link_html, image_user_name, created_at, updated_at`

func scanBoard(row interface{ Scan(...any) error }) (Board, error) {
	var b Board
	err := row.Scan(&b.ID, &b.OrgID, &b.Title, &b.ImageID, &b.ImageThumbURL, &b.ImageFullURL, &b.ImageLinkHTML, &b.ImageUserName, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (s *PostgresStore) ListBoards(ctx context.Context, orgID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+boardColumns+`
		FROM boards
		WHERE org_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		board, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, board)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetBoard(ctx context.Context, orgID, boardID string) (Board, error) {
	return scanBoard(s.db.QueryRowContext(ctx, `
		SELECT `+boardColumns+`
		FROM boards
		WHERE id = $1 AND org_id = $2
	`, boardID, orgID))
}

func (s *PostgresStore) InsertBoard(ctx context.Context, board Board) (Board, error) {
	created, err := scanBoard(s.db.QueryRowContext(ctx, `
		INSERT INTO boards (id, org_id, title, image_id, image_thumb_url, image_full_url, image_link_html, image_user_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+boardColumns+`
	`, board.ID, board.OrgID, board.Title, board.ImageID, board.ImageThumbURL, board.ImageFullURL, board.ImageLinkHTML, board.ImageUserName))
	if err != nil {
		return Board{}, fmt.Errorf("insert board: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateBoardTitle(ctx context.Context, orgID, boardID, title string) (Board, error) {
	return scanBoard(s.db.QueryRowContext(ctx, `
		UPDATE boards SET title = $3, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
		RETURNING `+boardColumns+`
	`, boardID, orgID, title))
}

// DeleteBoard removes the board and, through ON DELETE CASCADE, its lists
// and cards. The deleted row is returned for audit recording.
func (s *PostgresStore) DeleteBoard(ctx context.Context, orgID, boardID string) (Board, error) {
	return scanBoard(s.db.QueryRowContext(ctx, `
		DELETE FROM boards
		WHERE id = $1 AND org_id = $2
		RETURNING `+boardColumns+`
	`, boardID, orgID))
}

// Lists

const listColumns = `id, board_id, title, position, created_at, updated_at`

func scanList(row interface{ Scan(...any) error }) (List, error) {
	var l List
	err := row.Scan(&l.ID, &l.BoardID, &l.Title, &l.Order, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

func (s *PostgresStore) ListLists(ctx context.Context, orgID, boardID string) ([]List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.board_id, l.title, l.position, l.created_at, l.updated_at
		FROM lists l
		JOIN boards b ON b.id = l.board_id
		WHERE l.board_id = $1 AND b.org_id = $2
		ORDER BY l.position ASC
	`, boardID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	items := make([]List, 0)
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		items = append(items, list)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetList(ctx context.Context, orgID, boardID, listID string) (List, error) {
	return scanList(s.db.QueryRowContext(ctx, `
		SELECT l.id, l.board_id, l.title, l.position, l.created_at, l.updated_at
		FROM lists l
		JOIN boards b ON b.id = l.board_id
		WHERE l.id = $1 AND l.board_id = $2 AND b.org_id = $3
	`, listID, boardID, orgID))
}

// CreateList appends a list at the tail of the board: position is the
// current maximum plus one, or 1 for an empty board. The max read and the
// insert run in one transaction; the deferred unique constraint on
// (board_id, position) catches the remaining race between two concurrent
// appends, in which case the transaction is retried with a fresh max.
func (s *PostgresStore) CreateList(ctx context.Context, orgID, boardID, listID, title string) (List, error) {
	var created List
	err := s.withOrderRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create list: %w", err)
		}
		defer tx.Rollback()

		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM boards WHERE id = $1 AND org_id = $2)
		`, boardID, orgID).Scan(&exists); err != nil {
			return fmt.Errorf("check board: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}

		var position int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1 FROM lists WHERE board_id = $1
		`, boardID).Scan(&position); err != nil {
			return fmt.Errorf("next list position: %w", err)
		}

		created, err = scanList(tx.QueryRowContext(ctx, `
			INSERT INTO lists (id, board_id, title, position)
			VALUES ($1, $2, $3, $4)
			RETURNING `+listColumns+`
		`, listID, boardID, title, position))
		if err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return List{}, err
	}
	return created, nil
}

func (s *PostgresStore) UpdateListTitle(ctx context.Context, orgID, boardID, listID, title string) (List, error) {
	return scanList(s.db.QueryRowContext(ctx, `
		UPDATE lists l SET title = $4, updated_at = NOW()
		FROM boards b
		WHERE l.id = $1 AND l.board_id = $2 AND b.id = l.board_id AND b.org_id = $3
		RETURNING l.id, l.board_id, l.title, l.position, l.created_at, l.updated_at
	`, listID, boardID, orgID, title))
}

func (s *PostgresStore) DeleteList(ctx context.Context, orgID, boardID, listID string) (List, error) {
	return scanList(s.db.QueryRowContext(ctx, `
		DELETE FROM lists l
		USING boards b
		WHERE l.id = $1 AND l.board_id = $2 AND b.id = l.board_id AND b.org_id = $3
		RETURNING l.id, l.board_id, l.title, l.position, l.created_at, l.updated_at
	`, listID, boardID, orgID))
}

// CopyList duplicates a list and all of its cards in one transaction. The
// clone lands at the tail of the board and keeps every card's relative
// order. Card clones get fresh ids supplied by the caller via newCardID.
func (s *PostgresStore) CopyList(ctx context.Context, orgID, boardID, listID, newListID string, newCardID func() string) (List, []Card, error) {
	var (
		created List
		cards   []Card
	)
	err := s.withOrderRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin copy list: %w", err)
		}
		defer tx.Rollback()

		source, err := scanList(tx.QueryRowContext(ctx, `
			SELECT l.id, l.board_id, l.title, l.position, l.created_at, l.updated_at
			FROM lists l
			JOIN boards b ON b.id = l.board_id
			WHERE l.id = $1 AND l.board_id = $2 AND b.org_id = $3
		`, listID, boardID, orgID))
		if err != nil {
			return err
		}

		var position int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1 FROM lists WHERE board_id = $1
		`, boardID).Scan(&position); err != nil {
			return fmt.Errorf("next list position: %w", err)
		}

		created, err = scanList(tx.QueryRowContext(ctx, `
			INSERT INTO lists (id, board_id, title, position)
			VALUES ($1, $2, $3, $4)
			RETURNING `+listColumns+`
		`, newListID, boardID, source.Title+" - Copy", position))
		if err != nil {
			return fmt.Errorf("insert list copy: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT title, description, position FROM cards
			WHERE list_id = $1
			ORDER BY position ASC
		`, listID)
		if err != nil {
			return fmt.Errorf("read source cards: %w", err)
		}
		type sourceCard struct {
			title       string
			description string
			position    int
		}
		var sources []sourceCard
		for rows.Next() {
			var c sourceCard
			if err := rows.Scan(&c.title, &c.description, &c.position); err != nil {
				rows.Close()
				return fmt.Errorf("scan source card: %w", err)
			}
			sources = append(sources, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		cards = make([]Card, 0, len(sources))
		for _, src := range sources {
			clone, err := scanCard(tx.QueryRowContext(ctx, `
				INSERT INTO cards (id, list_id, title, description, position)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING `+cardColumns+`
			`, newCardID(), created.ID, src.title, src.description, src.position))
			if err != nil {
				return fmt.Errorf("insert card copy: %w", err)
			}
			cards = append(cards, clone)
		}
		return tx.Commit()
	})
	if err != nil {
		return List{}, nil, err
	}
	return created, cards, nil
}

// ReorderLists applies a client-supplied total order to the lists of one
// board. Every item must resolve to a list on that board within the acting
// tenant; a miss aborts the whole batch. All updates commit atomically.
func (s *PostgresStore) ReorderLists(ctx context.Context, orgID, boardID string, items []ListPosition) ([]List, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reorder lists: %w", err)
	}
	defer tx.Rollback()

	updated := make([]List, 0, len(items))
	for _, item := range items {
		list, err := scanList(tx.QueryRowContext(ctx, `
			UPDATE lists l SET position = $4, updated_at = NOW()
			FROM boards b
			WHERE l.id = $1 AND l.board_id = $2 AND b.id = l.board_id AND b.org_id = $3
			RETURNING l.id, l.board_id, l.title, l.position, l.created_at, l.updated_at
		`, item.ID, boardID, orgID, item.Order))
		if err != nil {
			return nil, err
		}
		updated = append(updated, list)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reorder lists: %w", err)
	}
	return updated, nil
}

// Cards

const cardColumns = `id, list_id, title, description, position, created_at, updated_at`

func scanCard(row interface{ Scan(...any) error }) (Card, error) {
	var c Card
	err := row.Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &c.Order, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) ListCardsByBoard(ctx context.Context, orgID, boardID string) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at
		FROM cards c
		JOIN lists l ON l.id = c.list_id
		JOIN boards b ON b.id = l.board_id
		WHERE l.board_id = $1 AND b.org_id = $2
		ORDER BY c.position ASC
	`, boardID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, card)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCard(ctx context.Context, orgID, cardID string) (Card, error) {
	var c Card
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at, l.title
		FROM cards c
		JOIN lists l ON l.id = c.list_id
		JOIN boards b ON b.id = l.board_id
		WHERE c.id = $1 AND b.org_id = $2
	`, cardID, orgID).Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &c.Order, &c.CreatedAt, &c.UpdatedAt, &c.ListTitle)
	if err != nil {
		return Card{}, err
	}
	return c, nil
}

// CreateCard appends a card at the tail of its list, with the same
// transaction-plus-retry discipline as CreateList.
func (s *PostgresStore) CreateCard(ctx context.Context, orgID, boardID, listID, cardID, title string) (Card, error) {
	var created Card
	err := s.withOrderRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create card: %w", err)
		}
		defer tx.Rollback()

		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM lists l
				JOIN boards b ON b.id = l.board_id
				WHERE l.id = $1 AND l.board_id = $2 AND b.org_id = $3
			)
		`, listID, boardID, orgID).Scan(&exists); err != nil {
			return fmt.Errorf("check list: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}

		var position int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1 FROM cards WHERE list_id = $1
		`, listID).Scan(&position); err != nil {
			return fmt.Errorf("next card position: %w", err)
		}

		created, err = scanCard(tx.QueryRowContext(ctx, `
			INSERT INTO cards (id, list_id, title, position)
			VALUES ($1, $2, $3, $4)
			RETURNING `+cardColumns+`
		`, cardID, listID, title, position))
		if err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return Card{}, err
	}
	return created, nil
}

// UpdateCard applies a partial update; nil title or description leaves the
// column untouched.
func (s *PostgresStore) UpdateCard(ctx context.Context, orgID, boardID, cardID string, title, description *string) (Card, error) {
	return scanCard(s.db.QueryRowContext(ctx, `
		UPDATE cards c SET
			title = COALESCE($4, c.title),
			description = COALESCE($5, c.description),
			updated_at = NOW()
		FROM lists l, boards b
		WHERE c.id = $1 AND c.list_id = l.id AND l.board_id = $2 AND b.id = l.board_id AND b.org_id = $3
		RETURNING c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at
	`, cardID, boardID, orgID, title, description))
}

func (s *PostgresStore) DeleteCard(ctx context.Context, orgID, boardID, cardID string) (Card, error) {
	return scanCard(s.db.QueryRowContext(ctx, `
		DELETE FROM cards c
		USING lists l, boards b
		WHERE c.id = $1 AND c.list_id = l.id AND l.board_id = $2 AND b.id = l.board_id AND b.org_id = $3
		RETURNING c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at
	`, cardID, boardID, orgID))
}

// CopyCard clones a card into the same list at the tail position with a
// " - Copy" title suffix.
func (s *PostgresStore) CopyCard(ctx context.Context, orgID, boardID, cardID, newCardID string) (Card, error) {
	var created Card
	err := s.withOrderRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin copy card: %w", err)
		}
		defer tx.Rollback()

		source, err := scanCard(tx.QueryRowContext(ctx, `
			SELECT c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at
			FROM cards c
			JOIN lists l ON l.id = c.list_id
			JOIN boards b ON b.id = l.board_id
			WHERE c.id = $1 AND l.board_id = $2 AND b.org_id = $3
		`, cardID, boardID, orgID))
		if err != nil {
			return err
		}

		var position int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position), 0) + 1 FROM cards WHERE list_id = $1
		`, source.ListID).Scan(&position); err != nil {
			return fmt.Errorf("next card position: %w", err)
		}

		created, err = scanCard(tx.QueryRowContext(ctx, `
			INSERT INTO cards (id, list_id, title, description, position)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+cardColumns+`
		`, newCardID, source.ListID, source.Title+" - Copy", source.Description, position))
		if err != nil {
			return fmt.Errorf("insert card copy: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return Card{}, err
	}
	return created, nil
}

// ReorderCards applies a client-supplied ordering to cards of one board,
// moving cards between lists where the item's ListID differs from the
// current one. The destination list must belong to the same board and
// tenant; the position and list assignment change in the same statement so
// a card is never observably in two lists or in none. Any item that fails
// its scope predicates aborts the whole transaction.
func (s *PostgresStore) ReorderCards(ctx context.Context, orgID, boardID string, items []CardPosition) ([]Card, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reorder cards: %w", err)
	}
	defer tx.Rollback()

	updated := make([]Card, 0, len(items))
	for _, item := range items {
		card, err := scanCard(tx.QueryRowContext(ctx, `
			UPDATE cards c SET position = $5, list_id = dst.id, updated_at = NOW()
			FROM lists cur, lists dst, boards b
			WHERE c.id = $1
				AND cur.id = c.list_id
				AND cur.board_id = $2
				AND b.id = cur.board_id AND b.org_id = $3
				AND dst.id = $4 AND dst.board_id = cur.board_id
			RETURNING c.id, c.list_id, c.title, c.description, c.position, c.created_at, c.updated_at
		`, item.ID, boardID, orgID, item.ListID, item.Order))
		if err != nil {
			return nil, err
		}
		updated = append(updated, card)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reorder cards: %w", err)
	}
	return updated, nil
}

// Audit log

func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry AuditLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, org_id, entity_id, entity_type, entity_title, action, user_id, user_name, user_image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.OrgID, entry.EntityID, entry.EntityType, entry.EntityTitle, entry.Action, entry.UserID, entry.UserName, entry.UserImage)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCardAuditLog(ctx context.Context, orgID, cardID string, limit int) ([]AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, entity_id, entity_type, entity_title, action, user_id, user_name, user_image, created_at
		FROM audit_log
		WHERE org_id = $1 AND entity_id = $2 AND entity_type = $3
		ORDER BY created_at DESC
		LIMIT $4
	`, orgID, cardID, EntityCard, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLogEntry, 0)
	for rows.Next() {
		var e AuditLogEntry
		if err := rows.Scan(&e.ID, &e.OrgID, &e.EntityID, &e.EntityType, &e.EntityTitle, &e.Action, &e.UserID, &e.UserName, &e.UserImage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// withOrderRetry runs fn, retrying a bounded number of times when the
// failure is a unique violation on a position column. Two concurrent tail
// appends to the same sibling group can both read the same max; the loser's
// commit fails on the deferred constraint and recomputes.
func (s *PostgresStore) withOrderRetry(fn func() error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !uniqueViolation(err) {
			return err
		}
	}
	return err
}
