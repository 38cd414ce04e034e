package blog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// RelatedProperty is a listing linked to a post with its similarity score.
type RelatedProperty struct {
	entities.Property
	Score float64 `json:"score"`
}

func (s *Service) links() interfaces.Repository {
	return s.db.Repository(entities.PostPropertySchema)
}

// LinkRelated embeds the post and replaces its related listings with the
// closest matches. Failures are logged; a post without links still renders.
func (s *Service) LinkRelated(ctx context.Context, post *entities.Post) {
	if s.embedder == nil || s.props == nil {
		return
	}
	n, err := s.linkRelated(ctx, post)
	if err != nil {
		s.logger.Warnw("Failed to link related properties", "post_id", post.ID, "error", err)
		return
	}
	s.logger.Infow("Linked related properties", "post_id", post.ID, "count", n)
}

func (s *Service) linkRelated(ctx context.Context, post *entities.Post) (int, error) {
	text := post.TitlePrimary + "\n\n" + post.ContentMD
	if post.City != nil {
		text = *post.City + "\n" + text
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("embed post: %w", err)
	}
	if _, err := s.posts().Update(ctx, interfaces.StringID(post.ID), map[string]interface{}{"embedding": vec}); err != nil {
		return 0, fmt.Errorf("store post embedding: %w", err)
	}

	props, err := s.props.WithEmbeddings(ctx, relatedPool)
	if err != nil {
		return 0, err
	}
	ranked := rankBySimilarity(vec, props, s.related)

	err = s.db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		repo := tx.Repository(entities.PostPropertySchema)
		page, err := repo.FindMany(ctx, &interfaces.Query{
			Where: interfaces.Where(interfaces.Eq("post_id", post.ID)),
		})
		if err != nil {
			return err
		}
		for _, row := range page.Data {
			if err := repo.Delete(ctx, interfaces.StringID(fmt.Sprint(row["id"]))); err != nil {
				return err
			}
		}
		for _, r := range ranked {
			if _, err := repo.Create(ctx, map[string]interface{}{
				"post_id":     post.ID,
				"property_id": r.ListingKey,
				"score":       r.Score,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replace related properties: %w", err)
	}
	return len(ranked), nil
}

// Related returns the listings linked to a post, best match first. Listings
// that have since been hidden or sold drop out.
func (s *Service) Related(ctx context.Context, postID string) ([]RelatedProperty, error) {
	page, err := s.links().FindMany(ctx, &interfaces.Query{
		Where:   interfaces.Where(interfaces.Eq("post_id", postID)),
		OrderBy: []interfaces.OrderBy{{Field: "score", Direction: "desc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list related properties: %w", err)
	}
	links, err := entities.DecodeAll[entities.PostProperty](page.Data)
	if err != nil {
		return nil, err
	}
	out := make([]RelatedProperty, 0, len(links))
	propRepo := s.db.Repository(entities.PropertySchema)
	for _, l := range links {
		row, err := propRepo.GetByID(ctx, interfaces.StringID(l.PropertyID))
		if err != nil {
			continue
		}
		p, err := entities.Decode[entities.Property](row)
		if err != nil || p.IsHidden() || !strings.EqualFold(p.Status, entities.PropertyStatusActive) {
			continue
		}
		out = append(out, RelatedProperty{Property: *p, Score: l.Score})
	}
	return out, nil
}

func rankBySimilarity(vec []float64, props []entities.Property, n int) []RelatedProperty {
	ranked := make([]RelatedProperty, 0, len(props))
	for _, p := range props {
		score, ok := cosine(vec, p.Embedding)
		if !ok {
			continue
		}
		ranked = append(ranked, RelatedProperty{Property: p, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// cosine reports false when the vectors differ in length or either is zero.
func cosine(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
