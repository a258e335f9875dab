package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store keeps accounts and session tokens in SQLite
type Store struct {
	db   *sql.DB
	cost int
	now  func() time.Time
}

var _ Provider = (*Store)(nil)

// StoreOption configures a Store
type StoreOption func(*Store)

// WithHashCost overrides the bcrypt cost
func WithHashCost(cost int) StoreOption {
	return func(s *Store) { s.cost = cost }
}

// NewStore creates an account store on db
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the users and sessions tables
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			uid TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			uid TEXT NOT NULL REFERENCES users(uid) ON DELETE CASCADE,
			created_at INTEGER NOT NULL
		)
	`)
	return err
}

// SignUp creates an account and opens a session for it
func (s *Store) SignUp(ctx context.Context, email, password string) (Identity, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, "", err
	}
	if len(password) < MinPasswordLength {
		return Identity{}, "", ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Identity{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	id := Identity{UID: uuid.New().String(), Email: email}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (uid, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		id.UID, id.Email, string(hash), s.now().UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Identity{}, "", ErrEmailInUse
		}
		return Identity{}, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.openSession(ctx, id.UID)
	if err != nil {
		return Identity{}, "", err
	}
	return id, token, nil
}

// SignIn checks the password and opens a new session
func (s *Store) SignIn(ctx context.Context, email, password string) (Identity, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Identity{}, "", err
	}

	var id Identity
	var hash string
	err = s.db.QueryRowContext(ctx,
		`SELECT uid, email, password_hash FROM users WHERE email = ?`, email,
	).Scan(&id.UID, &id.Email, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, "", fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Identity{}, "", ErrInvalidCredentials
	}

	token, err := s.openSession(ctx, id.UID)
	if err != nil {
		return Identity{}, "", err
	}
	return id, token, nil
}

// SignOut ends a session. Unknown tokens are ignored.
func (s *Store) SignOut(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// Authenticate resolves a session token to its identity
func (s *Store) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}

	var id Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT u.uid, u.email FROM sessions s
		JOIN users u ON u.uid = s.uid
		WHERE s.token = ?
	`, token).Scan(&id.UID, &id.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrUnauthenticated
	}
	if err != nil {
		return Identity{}, fmt.Errorf("failed to resolve session: %w", err)
	}
	return id, nil
}

func (s *Store) openSession(ctx context.Context, uid string) (string, error) {
	token := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, uid, created_at) VALUES (?, ?, ?)`,
		token, uid, s.now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	return token, nil
}

// normalizeEmail trims and lowercases a bare address
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
