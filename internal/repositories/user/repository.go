// Package user resolves and persists user identities.
package user

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"golang.org/x/crypto/bcrypt"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/linkage"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var userColumns = []string{
	"id", "username", "email", "password", "email_verified_at",
	"props", "created_at", "updated_at",
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "user.Repository.GetByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(userColumns...)
	sb.From("users")
	sb.Where(sb.Equal("id", id))
	sb.Limit(1)

	query, args := sb.Build()
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, linkage.NewNotFound("user", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"user_id": id}).Error("Failed to get user")
		return nil, linkage.NewDependency("user.get", err)
	}
	return &user, nil
}

// FindOrCreate returns the user matching the input's id or case-folded email,
// creating one when neither matches. A creation race with a concurrent caller
// falls back to re-reading the winner's row.
func (r *Repository) FindOrCreate(ctx context.Context, input models.UserInput) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "user.Repository.FindOrCreate")
	defer span.End()

	if input.ID != "" {
		return r.GetByID(ctx, input.ID)
	}

	email := strings.ToLower(input.Email)
	if email == "" {
		return nil, linkage.NewValidation("user email is required to resolve identity", "user.email")
	}

	user, err := r.getByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !linkage.IsKind(err, linkage.KindNotFound) {
		return nil, err
	}

	created, err := r.create(ctx, input, email)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return r.getByEmail(ctx, email)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"email": email}).Error("Failed to create user")
		return nil, linkage.NewDependency("user.create", err)
	}
	return created, nil
}

func (r *Repository) getByEmail(ctx context.Context, email string) (*models.User, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(userColumns...)
	sb.From("users")
	sb.Where("lower(email) = " + sb.Var(email))
	sb.Limit(1)

	query, args := sb.Build()
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, linkage.NewNotFound("user", email)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"email": email}).Error("Failed to get user by email")
		return nil, linkage.NewDependency("user.get", err)
	}
	return &user, nil
}

func (r *Repository) create(ctx context.Context, input models.UserInput, email string) (*models.User, error) {
	now := time.Now().UTC()
	user := models.User{
		ID:        uuid.New().String(),
		Username:  input.Username,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		user.Password = string(hash)
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("users")
	ib.Cols("id", "username", "email", "password", "props", "created_at", "updated_at")
	ib.Values(user.ID, user.Username, user.Email, user.Password, "{}", user.CreatedAt, user.UpdatedAt)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"user_id": user.ID}).Info("Created user")
	return &user, nil
}
