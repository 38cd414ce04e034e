package blog

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

const (
	maxCommentLen = 4000
	maxAuthorLen  = 80
)

type CommentInput struct {
	AuthorName  string `json:"authorName" validate:"required,max=80"`
	AuthorEmail string `json:"authorEmail" validate:"omitempty,email"`
	Body        string `json:"body" validate:"required,max=4000"`
}

func (s *Service) comments() interfaces.Repository {
	return s.db.Repository(entities.CommentSchema)
}

// AddComment queues a comment on a published post for moderation.
func (s *Service) AddComment(ctx context.Context, slug string, in CommentInput) (*entities.Comment, error) {
	post, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.AuthorName)
	body := strings.TrimSpace(in.Body)
	if name == "" || body == "" || len([]rune(name)) > maxAuthorLen || len([]rune(body)) > maxCommentLen {
		return nil, fmt.Errorf("%w: comment needs a name and a body", ErrInvalidPost)
	}
	data := map[string]interface{}{
		"post_id":     post.ID,
		"author_name": name,
		"body":        body,
		"status":      entities.CommentStatusPending,
	}
	if email := strings.TrimSpace(in.AuthorEmail); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email", ErrInvalidPost)
		}
		data["author_email"] = strings.ToLower(email)
	}
	row, err := s.comments().Create(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return entities.Decode[entities.Comment](row)
}

// ApprovedComments lists the comments readers can see, oldest first.
func (s *Service) ApprovedComments(ctx context.Context, slug string) ([]entities.Comment, error) {
	post, err := s.publishedBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.findComments(ctx, interfaces.Where(
		interfaces.Eq("post_id", post.ID),
		interfaces.Eq("status", entities.CommentStatusApproved),
	), "asc")
}

// PendingComments is the moderation queue across every post.
func (s *Service) PendingComments(ctx context.Context) ([]entities.Comment, error) {
	return s.findComments(ctx, interfaces.Where(interfaces.Eq("status", entities.CommentStatusPending)), "asc")
}

func (s *Service) findComments(ctx context.Context, where *interfaces.Filters, dir string) ([]entities.Comment, error) {
	page, err := s.comments().FindMany(ctx, &interfaces.Query{
		Where:   where,
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: dir}},
	})
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return entities.DecodeAll[entities.Comment](page.Data)
}

// Moderate approves or rejects a comment.
func (s *Service) Moderate(ctx context.Context, id, status string) (*entities.Comment, error) {
	if status != entities.CommentStatusApproved && status != entities.CommentStatusRejected {
		return nil, fmt.Errorf("%w: status must be approved or rejected", ErrInvalidPost)
	}
	row, err := s.comments().Update(ctx, interfaces.StringID(id), map[string]interface{}{"status": status})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("moderate comment: %w", err)
	}
	s.logger.Infow("Comment moderated", "id", id, "status", status)
	return entities.Decode[entities.Comment](row)
}
