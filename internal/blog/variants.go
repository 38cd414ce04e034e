package blog

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// PrimaryVariant labels the post's own title when no variant is shown.
const PrimaryVariant = "primary"

var ErrVariantNotFound = errors.New("title variant not found")

func (s *Service) variants() interfaces.Repository {
	return s.db.Repository(entities.PostTitleVariantSchema)
}

// Variants lists a post's headline variants ordered by label.
func (s *Service) Variants(ctx context.Context, postID string) ([]entities.PostTitleVariant, error) {
	page, err := s.variants().FindMany(ctx, &interfaces.Query{
		Where:   interfaces.Where(interfaces.Eq("post_id", postID)),
		OrderBy: []interfaces.OrderBy{{Field: "label", Direction: "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list title variants: %w", err)
	}
	return entities.DecodeAll[entities.PostTitleVariant](page.Data)
}

// AddVariant registers an alternative headline under label.
func (s *Service) AddVariant(ctx context.Context, postID, label, title string) (*entities.PostTitleVariant, error) {
	label = strings.ToLower(strings.TrimSpace(label))
	title = strings.TrimSpace(title)
	if label == "" || label == PrimaryVariant || title == "" {
		return nil, fmt.Errorf("%w: variant needs a label other than %q and a title", ErrInvalidPost, PrimaryVariant)
	}
	if _, err := s.Get(ctx, postID); err != nil {
		return nil, err
	}
	row, err := s.variants().Create(ctx, map[string]interface{}{
		"post_id": postID,
		"label":   label,
		"title":   title,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrUniqueConstraint) {
			return nil, ErrVariantExists
		}
		return nil, fmt.Errorf("create title variant: %w", err)
	}
	return entities.Decode[entities.PostTitleVariant](row)
}

func (s *Service) DeleteVariant(ctx context.Context, id string) error {
	err := s.variants().Delete(ctx, interfaces.StringID(id))
	if errors.Is(err, interfaces.ErrNotFound) {
		return ErrVariantNotFound
	}
	return err
}

// RecordVariantClick counts a click on the headline a visitor was shown.
func (s *Service) RecordVariantClick(ctx context.Context, postID, label string) error {
	row, err := s.variants().FindOne(ctx, &interfaces.Query{
		Where: interfaces.Where(
			interfaces.Eq("post_id", postID),
			interfaces.Eq("label", strings.ToLower(label)),
		),
	})
	if errors.Is(err, interfaces.ErrNotFound) {
		return ErrVariantNotFound
	}
	if err != nil {
		return fmt.Errorf("find title variant: %w", err)
	}
	return s.bump(ctx, fmt.Sprint(row["id"]), "clicks")
}

func (s *Service) recordVariant(ctx context.Context, id, counter string) {
	if err := s.bump(ctx, id, counter); err != nil {
		s.logger.Warnw("Failed to record title variant stat", "variant_id", id, "counter", counter, "error", err)
	}
}

// bump increments one counter column under a row lock so concurrent views
// are not lost.
func (s *Service) bump(ctx context.Context, id, counter string) error {
	return s.db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if err := tx.Lock(ctx, "variant:"+id); err != nil {
			return err
		}
		repo := tx.Repository(entities.PostTitleVariantSchema)
		row, err := repo.GetByID(ctx, interfaces.StringID(id))
		if err != nil {
			return err
		}
		n, _ := interfaces.ToFloat(row[counter])
		_, err = repo.Update(ctx, interfaces.StringID(id), map[string]interface{}{counter: int64(n) + 1})
		return err
	})
}

// chooseVariant picks one of the post's own title plus its variants for a
// visitor. The same visitor always lands on the same choice; nil means the
// primary title.
func chooseVariant(variants []entities.PostTitleVariant, postID, visitorID string) *entities.PostTitleVariant {
	if len(variants) == 0 || visitorID == "" {
		return nil
	}
	h := fnv.New32a()
	h.Write([]byte(postID + ":" + visitorID))
	idx := int(h.Sum32() % uint32(len(variants)+1))
	if idx == 0 {
		return nil
	}
	return &variants[idx-1]
}
