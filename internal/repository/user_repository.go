package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/bundle-store/internal/model"
)

// NewUser carries the columns required to insert a user.  The password is
// already hashed by the caller.
type NewUser struct {
	LoginKey     string
	PasswordHash string
	DisplayName  *string
	Role         string
}

type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// DB exposes the underlying handle so services can open transactions.
func (r *UserRepo) DB() *sql.DB { return r.db }

const userColumns = "id,login_key,password_hash,display_name,role,entitled,entitled_at,created_at,updated_at"

// NormalizeLoginKey trims and lower-cases an email or phone login key.
func NormalizeLoginKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Create inserts user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, u NewUser) (uint64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (login_key, password_hash, display_name, role, entitled, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
		NormalizeLoginKey(u.LoginKey), u.PasswordHash, nullString(u.DisplayName), u.Role, false, now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrLoginKeyExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// SetAdminCredentials promotes a user to admin and replaces its password
// hash.
func (r *UserRepo) SetAdminCredentials(ctx context.Context, id uint64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE users SET role=?, password_hash=?, updated_at=? WHERE id=?",
		model.RoleAdmin, passwordHash, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// GetByLoginKey fetches a user by normalized login key.
func (r *UserRepo) GetByLoginKey(ctx context.Context, key string) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE login_key=? LIMIT 1", NormalizeLoginKey(key)))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return getUserByID(ctx, r.db, id)
}

// LockForUpdateTx takes the write lock on the user's row and returns the
// row as seen inside the transaction.  The no-op UPDATE acquires an
// InnoDB row lock on MySQL and the database write lock on SQLite, so
// concurrent purchase requests for the same user run one after another.
func (r *UserRepo) LockForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.User, error) {
	res, err := tx.ExecContext(ctx, "UPDATE users SET updated_at=? WHERE id=?", time.Now().UTC(), id)
	if err != nil {
		return model.User{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.User{}, err
	} else if n == 0 {
		return model.User{}, ErrNotFound
	}
	return getUserByID(ctx, tx, id)
}

// GrantEntitlementTx marks the user as entitled.  An existing entitlement
// keeps its original timestamp.
func (r *UserRepo) GrantEntitlementTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE users SET entitled=?, entitled_at=COALESCE(entitled_at, ?), updated_at=? WHERE id=?",
		true, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns users ordered by newest first.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func getUserByID(ctx context.Context, q querier, id uint64) (model.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u           model.User
		displayName sql.NullString
		entitledAt  sql.NullTime
	)
	err := row.Scan(&u.ID, &u.LoginKey, &u.PasswordHash, &displayName, &u.Role,
		&u.Entitled, &entitledAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, notFound(err)
	}
	u.DisplayName = stringPtr(displayName)
	u.EntitledAt = timePtr(entitledAt)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}
