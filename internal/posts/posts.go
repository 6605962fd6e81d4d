package posts

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/internal/models"
	"github.com/4xmen/pawpal/pkg/apperror"
)

var (
	ErrPostNotFound = apperror.NotFound("Post not found")
	ErrNotOwner     = apperror.Forbidden("You can only delete your own posts")
)

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

type NewPost struct {
	Type        models.PostType
	Title       *string
	Description *string
	Location    *string
	Details     models.PostDetails
}

func (np NewPost) validate() error {
	if !np.Type.Valid() {
		return apperror.Validation("Invalid post type")
	}
	switch np.Details.(type) {
	case nil, models.AdoptionDetails, models.DiscussionDetails, models.HelpDetails:
	default:
		return apperror.Validation("Unsupported post details")
	}
	if np.Details != nil && np.Details.PostType() != np.Type {
		return apperror.Validation("Post details do not match post type")
	}
	if np.Type == models.PostAdoption {
		d, ok := np.Details.(models.AdoptionDetails)
		if !ok || strings.TrimSpace(d.PetName) == "" {
			return apperror.Validation("Pet name is required for adoption posts")
		}
	}
	return nil
}

// Create inserts the post and its type-specific row together.
func (s *Store) Create(ctx context.Context, userID int, np NewPost) (*models.Post, error) {
	if err := np.validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "posts.Create.Begin")
	}
	defer tx.Rollback()

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO posts (user_id, type, title, description, location)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, userID, string(np.Type), np.Title, np.Description, np.Location).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "posts.Create.Insert")
	}

	if err := insertDetails(ctx, tx, id, np.Type, np.Details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "posts.Create.Commit")
	}
	return s.Get(ctx, id)
}

func insertDetails(ctx context.Context, tx *db.Tx, postID int, typ models.PostType, details models.PostDetails) error {
	var err error
	switch typ {
	case models.PostAdoption:
		d := details.(models.AdoptionDetails)
		_, err = tx.Exec(ctx, `
			INSERT INTO adoption_posts (post_id, pet_name, species, breed, age, gender, size, urgent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, postID, strings.TrimSpace(d.PetName), d.Species, d.Breed, d.Age, d.Gender, d.Size, d.Urgent)
	case models.PostDiscussion:
		d, _ := details.(models.DiscussionDetails)
		if d.Tags == nil {
			d.Tags = []string{}
		}
		tags, jerr := json.Marshal(d.Tags)
		if jerr != nil {
			return errors.Wrap(jerr, "posts.Create.Tags")
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO discussion_posts (post_id, tags, is_popular) VALUES (?, ?, ?)",
			postID, string(tags), d.IsPopular,
		)
	case models.PostHelp:
		d, _ := details.(models.HelpDetails)
		if d.UrgencyLevel == "" {
			d.UrgencyLevel = "normal"
		}
		if d.Status == "" {
			d.Status = "open"
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO help_posts (post_id, help_type, urgency_level, status) VALUES (?, ?, ?, ?)",
			postID, d.HelpType, d.UrgencyLevel, d.Status,
		)
	}
	if err != nil {
		return errors.Wrap(err, "posts.Create.Details")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int) (*models.Post, error) {
	p := &models.Post{}
	var typ string
	var title, description, location sql.NullString
	err := s.db.QueryRow(ctx, `
		SELECT p.id, p.user_id, u.username, p.type, p.title, p.description, p.location, p.created_at,
			(SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id)
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.id = ?
	`, id).Scan(&p.ID, &p.UserID, &p.Author, &typ, &title, &description, &location, &p.CreatedAt, &p.Likes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, errors.Wrap(err, "posts.Get")
	}
	p.Type = models.PostType(typ)
	p.Title = nullString(title)
	p.Description = nullString(description)
	p.Location = nullString(location)

	if p.Details, err = s.details(ctx, p.ID, p.Type); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) details(ctx context.Context, postID int, typ models.PostType) (models.PostDetails, error) {
	switch typ {
	case models.PostAdoption:
		var d models.AdoptionDetails
		var species, breed, age, gender, size sql.NullString
		err := s.db.QueryRow(ctx, `
			SELECT pet_name, species, breed, age, gender, size, urgent
			FROM adoption_posts WHERE post_id = ?
		`, postID).Scan(&d.PetName, &species, &breed, &age, &gender, &size, &d.Urgent)
		if err != nil {
			return nil, detailsErr(err)
		}
		d.Species, d.Breed, d.Age = nullString(species), nullString(breed), nullString(age)
		d.Gender, d.Size = nullString(gender), nullString(size)
		return d, nil
	case models.PostDiscussion:
		var d models.DiscussionDetails
		var tags string
		err := s.db.QueryRow(ctx,
			"SELECT tags, is_popular FROM discussion_posts WHERE post_id = ?", postID,
		).Scan(&tags, &d.IsPopular)
		if err != nil {
			return nil, detailsErr(err)
		}
		if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
			return nil, errors.Wrap(err, "posts.details.tags")
		}
		return d, nil
	case models.PostHelp:
		var d models.HelpDetails
		var helpType sql.NullString
		err := s.db.QueryRow(ctx,
			"SELECT help_type, urgency_level, status FROM help_posts WHERE post_id = ?", postID,
		).Scan(&helpType, &d.UrgencyLevel, &d.Status)
		if err != nil {
			return nil, detailsErr(err)
		}
		d.HelpType = nullString(helpType)
		return d, nil
	}
	return nil, nil
}

// detailsErr tolerates a missing detail row; the post itself still exists.
func detailsErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return errors.Wrap(err, "posts.details")
}

// Delete removes a post owned by userID. Someone else's post is a 403,
// unlike conversations where access denial reads as not found.
func (s *Store) Delete(ctx context.Context, id, userID int) error {
	var owner int
	err := s.db.QueryRow(ctx, "SELECT user_id FROM posts WHERE id = ?", id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPostNotFound
		}
		return errors.Wrap(err, "posts.Delete.Owner")
	}
	if owner != userID {
		return ErrNotOwner
	}

	if _, err := s.db.Exec(ctx, "DELETE FROM posts WHERE id = ?", id); err != nil {
		return errors.Wrap(err, "posts.Delete")
	}
	return nil
}

// ToggleLike flips userID's like on the post and returns the new state
// and like count.
func (s *Store) ToggleLike(ctx context.Context, postID, userID int) (liked bool, count int, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "posts.ToggleLike.Begin")
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM posts WHERE id = ?)", postID).Scan(&exists); err != nil {
		return false, 0, errors.Wrap(err, "posts.ToggleLike.Exists")
	}
	if !exists {
		return false, 0, ErrPostNotFound
	}

	res, err := tx.Exec(ctx, "DELETE FROM likes WHERE user_id = ? AND post_id = ?", userID, postID)
	if err != nil {
		return false, 0, errors.Wrap(err, "posts.ToggleLike.Unlike")
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, 0, errors.Wrap(err, "posts.ToggleLike.RowsAffected")
	}
	if removed == 0 {
		if _, err := tx.Exec(ctx, "INSERT INTO likes (user_id, post_id) VALUES (?, ?)", userID, postID); err != nil {
			return false, 0, errors.Wrap(err, "posts.ToggleLike.Like")
		}
		liked = true
	}

	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM likes WHERE post_id = ?", postID).Scan(&count); err != nil {
		return false, 0, errors.Wrap(err, "posts.ToggleLike.Count")
	}

	if err := tx.Commit(); err != nil {
		return false, 0, errors.Wrap(err, "posts.ToggleLike.Commit")
	}
	return liked, count, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
