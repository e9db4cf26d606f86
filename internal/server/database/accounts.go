package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, username, email, password_hash, role, google_id, name, created_at`

func scanAccount(row scanner) (*Account, error) {
	a := &Account{}
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&a.Role,
		&a.GoogleID,
		&a.Name,
		&a.CreatedAt,
	)
	return a, err
}

// CreateAccount inserts a new account. It returns ErrDuplicate when the
// username, email or Google id is already taken.
func (r *Repository) CreateAccount(ctx context.Context, a *Account) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		a.ID,
		a.Username,
		a.Email,
		a.PasswordHash,
		a.Role,
		a.GoogleID,
		a.Name,
		a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *Repository) getAccount(ctx context.Context, where string, arg any) (*Account, error) {
	a, err := scanAccount(r.db.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetAccountByID retrieves an account by its id.
func (r *Repository) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	return r.getAccount(ctx, "id = $1", id)
}

// GetAccountByUsername retrieves an account by its username.
func (r *Repository) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	return r.getAccount(ctx, "username = $1", username)
}

// GetAccountByEmail retrieves an account by its (lowercased) email.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return r.getAccount(ctx, "email = $1", email)
}

// AccountExists reports whether any account uses the username or the email.
func (r *Repository) AccountExists(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE username = $1 OR email = $2)",
		username, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return exists, nil
}

// UpdateAccountName sets the display name of an account.
func (r *Repository) UpdateAccountName(ctx context.Context, id, name string) error {
	tag, err := r.db.Pool.Exec(ctx, "UPDATE accounts SET name = $2 WHERE id = $1", id, name)
	if err != nil {
		return fmt.Errorf("failed to update account name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccountPassword replaces the password hash of an account.
func (r *Repository) UpdateAccountPassword(ctx context.Context, id, hash string) error {
	tag, err := r.db.Pool.Exec(ctx, "UPDATE accounts SET password_hash = $2 WHERE id = $1", id, hash)
	if err != nil {
		return fmt.Errorf("failed to update account password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAdmins returns every admin except excludeID, ordered by username.
func (r *Repository) ListAdmins(ctx context.Context, excludeID string) ([]*Account, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE role = $1 AND id <> $2
		ORDER BY username ASC
	`, RoleAdmin, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer rows.Close()

	var admins []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, a)
	}
	return admins, rows.Err()
}
