package users

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/internal/models"
	"github.com/4xmen/pawpal/pkg/apperror"
)

var (
	ErrUserExists   = apperror.Conflict("User with this email or username already exists")
	ErrUserNotFound = apperror.NotFound("User not found")
)

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Avatar       *string
	Bio          *string
	Location     *string
}

// ProfileUpdate carries the editable profile fields. A nil Username keeps
// the current one; nil optional fields clear the column.
type ProfileUpdate struct {
	Username *string
	Avatar   *string
	Bio      *string
	Location *string
}

const userColumns = "id, username, email, password_hash, avatar, bio, location, created_at"

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var avatar, bio, location sql.NullString
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &avatar, &bio, &location, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Avatar = nullString(avatar)
	u.Bio = nullString(bio)
	u.Location = nullString(location)
	return u, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// EmailOrUsernameTaken is the pre-check used by registration. The unique
// indexes still back it up under concurrent registrations.
func (s *Store) EmailOrUsernameTaken(ctx context.Context, email, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = ? OR username = ?)",
		email, username,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "users.EmailOrUsernameTaken")
	}
	return exists, nil
}

func (s *Store) Create(ctx context.Context, nu NewUser) (*models.User, error) {
	var id int
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, avatar, bio, location)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, nu.Username, nu.Email, nu.PasswordHash, nu.Avatar, nu.Bio, nu.Location).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, errors.Wrap(err, "users.Create")
	}

	return s.GetByID(ctx, id)
}

func (s *Store) GetByID(ctx context.Context, id int) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "users.GetByID")
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "users.FindByEmail")
	}
	return u, nil
}

func (s *Store) Exists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "users.Exists")
	}
	return exists, nil
}

func (s *Store) Update(ctx context.Context, id int, upd ProfileUpdate) (*models.User, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	username := current.Username
	if upd.Username != nil && strings.TrimSpace(*upd.Username) != "" {
		username = strings.TrimSpace(*upd.Username)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE users
		SET username = ?, avatar = ?, bio = ?, location = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, username, upd.Avatar, upd.Bio, upd.Location, id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperror.Conflict("Username already taken")
		}
		return nil, errors.Wrap(err, "users.Update")
	}

	return s.GetByID(ctx, id)
}

func (s *Store) Stats(ctx context.Context, id int) (models.UserStats, error) {
	var stats models.UserStats
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM posts WHERE user_id = ?", id).Scan(&stats.PostsCount); err != nil {
		return stats, errors.Wrap(err, "users.Stats.posts")
	}

	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM likes l
		JOIN posts p ON l.post_id = p.id
		WHERE p.user_id = ?
	`, id).Scan(&stats.LikesReceived)
	if err != nil {
		return stats, errors.Wrap(err, "users.Stats.likes")
	}
	return stats, nil
}
