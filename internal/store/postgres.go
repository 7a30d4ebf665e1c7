package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateEmail is returned when registration hits an email that
	// already has an account.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateFilename is returned when a document insert loses the
	// global filename uniqueness check at the database.
	ErrDuplicateFilename = errors.New("filename already exists")
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

// ── users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, user.ID, user.Name, user.Email, user.PasswordHash).Scan(&id)
	if isUniqueViolation(err) {
		return "", ErrDuplicateEmail
	}
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, created_at
		FROM users
		ORDER BY name, email
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// ── documents ──

const documentColumns = `
	d.id, d.filename, d.code, d.title, d.content, d.comments, d.allowed_users,
	u.name, u.email, d.created_at, d.updated_at
`

func scanDocument(scanner interface{ Scan(...any) error }) (Document, error) {
	var doc Document
	var commentsRaw, allowedRaw []byte
	err := scanner.Scan(
		&doc.ID, &doc.Filename, &doc.Code, &doc.Title, &doc.Content,
		&commentsRaw, &allowedRaw,
		&doc.OwnerName, &doc.OwnerEmail, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(commentsRaw, &doc.Comments); err != nil {
		return Document{}, fmt.Errorf("decode comments: %w", err)
	}
	if err := json.Unmarshal(allowedRaw, &doc.AllowedUsers); err != nil {
		return Document{}, fmt.Errorf("decode allowed users: %w", err)
	}
	return doc, nil
}

// CreateDocument inserts a document under the owner identified by email. The
// caller is expected to have run the filename scan first; the unique index
// is the backstop for concurrent creates racing past that check.
func (s *PostgresStore) CreateDocument(ctx context.Context, ownerEmail string, doc Document) error {
	comments, err := json.Marshal(emptyIfNilComments(doc.Comments))
	if err != nil {
		return fmt.Errorf("encode comments: %w", err)
	}
	allowed, err := json.Marshal(emptyIfNil(doc.AllowedUsers))
	if err != nil {
		return fmt.Errorf("encode allowed users: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, filename, code, title, content, comments, allowed_users)
		SELECT $1, u.id, $2, $3, $4, $5, $6, $7
		FROM users u
		WHERE u.email = $8
	`, doc.ID, doc.Filename, doc.Code, doc.Title, doc.Content, comments, allowed, ownerEmail)
	if isUniqueViolation(err) {
		return ErrDuplicateFilename
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) FindByFilename(ctx context.Context, filename string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.owner_id
		WHERE d.filename=$1
	`, filename)
	return scanDocument(row)
}

// ListAllFilenames returns every filename across every user's documents.
// Used by the uniqueness scan before an insert.
func (s *PostgresStore) ListAllFilenames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("list filenames: %w", err)
	}
	defer rows.Close()

	filenames := make([]string, 0)
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, fmt.Errorf("scan filename: %w", err)
		}
		filenames = append(filenames, filename)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filenames: %w", err)
	}
	return filenames, nil
}

// UpdateDocumentContent replaces title, content and the whole comments
// sequence in one statement and reports how many rows changed. There is no
// read-modify-write here, so two concurrent writers interleave as whole
// replacements.
func (s *PostgresStore) UpdateDocumentContent(ctx context.Context, filename, title, content string, comments []Comment) (int64, error) {
	encoded, err := json.Marshal(emptyIfNilComments(comments))
	if err != nil {
		return 0, fmt.Errorf("encode comments: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, comments=$4, updated_at=NOW()
		WHERE filename=$1
	`, filename, title, content, encoded)
	if err != nil {
		return 0, fmt.Errorf("update document: %w", err)
	}
	modified, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update document: %w", err)
	}
	return modified, nil
}

// UpdateDocumentEditors replaces the allowed-users set wholesale and echoes
// the stored list back.
func (s *PostgresStore) UpdateDocumentEditors(ctx context.Context, filename string, allowedUsers []string) ([]string, error) {
	encoded, err := json.Marshal(emptyIfNil(allowedUsers))
	if err != nil {
		return nil, fmt.Errorf("encode allowed users: %w", err)
	}
	var stored []byte
	err = s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET allowed_users=$2, updated_at=NOW()
		WHERE filename=$1
		RETURNING allowed_users
	`, filename, encoded).Scan(&stored)
	if err != nil {
		return nil, err
	}
	var echo []string
	if err := json.Unmarshal(stored, &echo); err != nil {
		return nil, fmt.Errorf("decode allowed users: %w", err)
	}
	return echo, nil
}

// ListAllowedDocuments returns the documents the user may edit in the given
// mode. Both conditions are applied in the query, so a user removed from a
// document's editors disappears from this listing on the next read.
func (s *PostgresStore) ListAllowedDocuments(ctx context.Context, email string, code bool) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.owner_id
		WHERE d.code=$2 AND d.allowed_users @> to_jsonb(ARRAY[$1::text])
		ORDER BY d.filename
	`, email, code)
	if err != nil {
		return nil, fmt.Errorf("list allowed documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// ListAllowedFilenames returns every filename the user may edit, in either
// mode. Backs the readall listing.
func (s *PostgresStore) ListAllowedFilenames(ctx context.Context, email string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename
		FROM documents
		WHERE allowed_users @> to_jsonb(ARRAY[$1::text])
		ORDER BY filename
	`, email)
	if err != nil {
		return nil, fmt.Errorf("list allowed filenames: %w", err)
	}
	defer rows.Close()

	filenames := make([]string, 0)
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, fmt.Errorf("scan filename: %w", err)
		}
		filenames = append(filenames, filename)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filenames: %w", err)
	}
	return filenames, nil
}

// ListAllDocuments returns every document. Used to seed the search index at
// startup.
func (s *PostgresStore) ListAllDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.owner_id
		ORDER BY d.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (s *PostgresStore) ListUserDocuments(ctx context.Context, email string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		JOIN users u ON u.id = d.owner_id
		WHERE u.email=$1
		ORDER BY d.created_at
	`, email)
	if err != nil {
		return nil, fmt.Errorf("list user documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	documents := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}

// ── refresh sessions (Postgres fallback when Redis is not configured) ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_email, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_email=EXCLUDED.user_email, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.Email, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.email = rs.user_email
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Name, &user.Email)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func emptyIfNilComments(comments []Comment) []Comment {
	if comments == nil {
		return []Comment{}
	}
	return comments
}
