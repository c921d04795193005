package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"dm-service/internal/models"
)

// UserRepository is the read side of the user directory used by the sidebar.
type UserRepository interface {
	ListUsersExcept(ctx context.Context, userID string) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// ListUsersExcept returns every user other than userID.
func (r *UserRepo) ListUsersExcept(ctx context.Context, userID string) ([]models.User, error) {
	users := []models.User{}
	err := r.db.SelectContext(ctx, &users, `SELECT id, full_name, email, profile_pic, bio, created_at
        FROM users WHERE id <> $1 ORDER BY full_name ASC, id ASC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.ListUsersExcept.Select")
	}
	return users, nil
}
