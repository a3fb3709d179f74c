package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// User is created at authentication setup time and owned by the session
// provider afterwards. The role is immutable once assigned.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	Role         string     `json:"role"`
	PasswordHash string     `json:"-"`
	Salt         string     `json:"-"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type UsersStore interface {
	Create(ctx context.Context, u *User) (string, error)
	Get(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	SetActive(ctx context.Context, id string, active bool) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) Create(ctx context.Context, u *User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.Must(uuid.NewV4()).String()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users(id, email, full_name, role, password_hash, salt, active, last_login_at, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.FullName, u.Role, u.PasswordHash, u.Salt, boolToInt(u.Active), nullableTime(u.LastLoginAt), now, now)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (s *usersStore) Get(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, password_hash, salt, active, last_login_at, created_at, updated_at
		FROM users WHERE id=?`, id)
	return scanUser(row)
}

func (s *usersStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, role, password_hash, salt, active, last_login_at, created_at, updated_at
		FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *usersStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, full_name, role, password_hash, salt, active, last_login_at, created_at, updated_at
		FROM users ORDER BY full_name ASC, email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		var active int
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.Salt, &active, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Active = active == 1
		if lastLogin.Valid {
			u.LastLoginAt = &lastLogin.Time
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *usersStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active=?, updated_at=? WHERE id=?`,
		boolToInt(active), time.Now().UTC(), id)
	return err
}

func (s *usersStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at=?, updated_at=? WHERE id=?`, at, at, id)
	return err
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var active int
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.PasswordHash, &u.Salt, &active, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Active = active == 1
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}
