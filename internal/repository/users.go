package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
)

// UserRepository is a read path over the identity envelope; user creation
// and authentication are owned by the out-of-scope operator console.
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, display_name, active FROM users WHERE id = ?`, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Active); err != nil {
		if err == sql.ErrNoRows {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("repository: scan user: %w", err)
	}
	return u, nil
}
