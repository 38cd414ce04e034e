package listings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100

	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortNewest    = "newest"
	SortUpdated   = "updated"
)

var (
	ErrNotFound      = errors.New("property not found")
	ErrInvalidSearch = errors.New("invalid search options")
)

// SearchOptions are the optional filters accepted by Search. Nil pointers and
// empty strings mean "no filter".
type SearchOptions struct {
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	MinPrice     *float64 `json:"minPrice,omitempty"`
	MaxPrice     *float64 `json:"maxPrice,omitempty"`
	MinBeds      *int     `json:"minBeds,omitempty"`
	MaxBeds      *int     `json:"maxBeds,omitempty"`
	MinBaths     *float64 `json:"minBaths,omitempty"`
	MaxBaths     *float64 `json:"maxBaths,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
	HasPool      *bool    `json:"hasPool,omitempty"`
	HasView      *bool    `json:"hasView,omitempty"`
	Sort         string   `json:"sort,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Offset       int      `json:"offset,omitempty"`
}

type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

type SearchResult struct {
	Properties []entities.Property `json:"properties"`
	Pagination Pagination          `json:"pagination"`
}

// PublicVisibility is the one predicate every public read applies:
// status = 'Active' AND hidden IS NOT TRUE.
func PublicVisibility() *interfaces.Filters {
	return interfaces.Where(interfaces.Eq("status", entities.PropertyStatusActive)).And(
		interfaces.AnyOf(
			interfaces.Where(interfaces.Eq("hidden", false)),
			interfaces.Where(interfaces.IsNull("hidden")),
		),
	)
}

// Normalize applies defaults and reinterprets a state name passed as city.
func (o SearchOptions) Normalize() (SearchOptions, error) {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		return o, fmt.Errorf("%w: offset must not be negative", ErrInvalidSearch)
	}
	if o.Sort == "" {
		o.Sort = SortUpdated
	}
	if _, ok := sortOrders[o.Sort]; !ok {
		return o, fmt.Errorf("%w: unknown sort %q", ErrInvalidSearch, o.Sort)
	}
	if o.MinPrice != nil && o.MaxPrice != nil && *o.MinPrice > *o.MaxPrice {
		return o, fmt.Errorf("%w: minPrice exceeds maxPrice", ErrInvalidSearch)
	}

	o.City = strings.TrimSpace(o.City)
	if code, ok := cityAsState(o.City); ok && o.City != "" {
		o.State = code
		o.City = ""
	}
	if o.State != "" {
		if code, ok := StateCode(o.State); ok {
			o.State = code
		}
	}
	return o, nil
}

var sortOrders = map[string]interfaces.OrderBy{
	SortPriceAsc:  {Field: "list_price", Direction: "asc"},
	SortPriceDesc: {Field: "list_price", Direction: "desc"},
	SortNewest:    {Field: "first_seen_at", Direction: "desc"},
	SortUpdated:   {Field: "modification_timestamp", Direction: "desc"},
}

// Filters translates already-normalized options into repository filters,
// without the visibility predicate.
func (o SearchOptions) Filters() *interfaces.Filters {
	var conds []interfaces.Filter
	if o.City != "" {
		conds = append(conds, interfaces.ILike("city", o.City))
	}
	if o.State != "" {
		conds = append(conds, interfaces.Eq("state_or_province", o.State))
	}
	if o.MinPrice != nil {
		conds = append(conds, interfaces.Gte("list_price", *o.MinPrice))
	}
	if o.MaxPrice != nil {
		conds = append(conds, interfaces.Lte("list_price", *o.MaxPrice))
	}
	if o.MinBeds != nil {
		conds = append(conds, interfaces.Gte("bedrooms_total", *o.MinBeds))
	}
	if o.MaxBeds != nil {
		conds = append(conds, interfaces.Lte("bedrooms_total", *o.MaxBeds))
	}
	if o.MinBaths != nil {
		conds = append(conds, interfaces.Gte("bathrooms_total", *o.MinBaths))
	}
	if o.MaxBaths != nil {
		conds = append(conds, interfaces.Lte("bathrooms_total", *o.MaxBaths))
	}
	if o.PropertyType != "" {
		conds = append(conds, interfaces.ILike("property_type", o.PropertyType))
	}
	if o.HasPool != nil {
		conds = append(conds, interfaces.Eq("has_pool", *o.HasPool))
	}
	if o.HasView != nil {
		conds = append(conds, interfaces.Eq("has_view", *o.HasView))
	}
	return interfaces.Where(conds...)
}

type Service struct {
	db     interfaces.Database
	cache  *store.Cache
	logger *zap.SugaredLogger
}

func NewService(db interfaces.Database, cache *store.Cache, logger *zap.SugaredLogger) *Service {
	return &Service{db: db, cache: cache, logger: logger}
}

func (s *Service) repo() interfaces.Repository {
	return s.db.Repository(entities.PropertySchema)
}

// Search returns one page of publicly visible listings. Rows that fail to
// decode or validate are dropped with a warning.
func (s *Service) Search(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	return s.search(ctx, PublicVisibility().And(opts.Filters()), opts)
}

func (s *Service) search(ctx context.Context, where *interfaces.Filters, opts SearchOptions) (*SearchResult, error) {
	page, err := s.repo().FindMany(ctx, &interfaces.Query{
		Where:   where,
		OrderBy: []interfaces.OrderBy{sortOrders[opts.Sort]},
		Limit:   interfaces.Limit(opts.Limit),
		Offset:  interfaces.Limit(opts.Offset),
	})
	if err != nil {
		return nil, fmt.Errorf("search properties: %w", err)
	}

	return &SearchResult{
		Properties: s.decodeValid(page.Data),
		Pagination: Pagination{
			Total:   page.Total,
			Limit:   opts.Limit,
			Offset:  opts.Offset,
			HasMore: int64(opts.Offset+len(page.Data)) < page.Total,
		},
	}, nil
}

func (s *Service) decodeValid(rows []map[string]interface{}) []entities.Property {
	out := make([]entities.Property, 0, len(rows))
	for _, row := range rows {
		p, err := entities.Decode[entities.Property](row)
		if err == nil {
			err = validate(p)
		}
		if err != nil {
			s.logger.Warnw("Dropping invalid property row", "listing_key", row["listing_key"], "error", err)
			continue
		}
		out = append(out, *p)
	}
	return out
}

func validate(p *entities.Property) error {
	switch {
	case p.ListingKey == "":
		return errors.New("missing listing key")
	case p.City == "":
		return errors.New("missing city")
	case p.ListPrice != nil && *p.ListPrice < 0:
		return errors.New("negative list price")
	case p.BedroomsTotal != nil && *p.BedroomsTotal < 0:
		return errors.New("negative bedroom count")
	}
	return nil
}

// Get returns one publicly visible listing.
func (s *Service) Get(ctx context.Context, listingKey string) (*entities.Property, error) {
	where := PublicVisibility().And(interfaces.Where(interfaces.Eq("listing_key", listingKey)))
	row, err := s.repo().FindOne(ctx, &interfaces.Query{Where: where})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	props := s.decodeValid([]map[string]interface{}{row})
	if len(props) == 0 {
		return nil, ErrNotFound
	}
	return &props[0], nil
}

const featuredTTL = 5 * time.Minute

// Featured returns the most recently updated visible listings, optionally
// restricted to a city. Results are cached briefly.
func (s *Service) Featured(ctx context.Context, city string, n int) ([]entities.Property, error) {
	if n <= 0 || n > MaxLimit {
		n = 6
	}
	key := fmt.Sprintf("%s:%s:%d", store.KeyFeaturedHomes, strings.ToLower(strings.TrimSpace(city)), n)

	var cached []entities.Property
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	res, err := s.Search(ctx, SearchOptions{City: city, Sort: SortUpdated, Limit: n})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, res.Properties, featuredTTL); err != nil {
			s.logger.Warnw("Failed to cache featured listings", "key", key, "error", err)
		}
	}
	return res.Properties, nil
}

// Similar returns visible listings in the same city and property type whose
// price is within 25% of the reference listing.
func (s *Service) Similar(ctx context.Context, listingKey string, n int) ([]entities.Property, error) {
	ref, err := s.Get(ctx, listingKey)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > MaxLimit {
		n = 4
	}

	conds := []interfaces.Filter{
		interfaces.Ne("listing_key", ref.ListingKey),
		interfaces.Eq("city", ref.City),
	}
	if ref.PropertyType != nil {
		conds = append(conds, interfaces.Eq("property_type", *ref.PropertyType))
	}
	if ref.ListPrice != nil {
		conds = append(conds, interfaces.Between("list_price", *ref.ListPrice*0.75, *ref.ListPrice*1.25))
	}

	res, err := s.search(ctx, PublicVisibility().And(interfaces.Where(conds...)),
		SearchOptions{Sort: SortUpdated, Limit: n})
	if err != nil {
		return nil, err
	}
	return res.Properties, nil
}

// AdminListOptions filters the admin listing table. Unlike Search it sees
// hidden and inactive rows.
type AdminListOptions struct {
	Query  string `json:"q,omitempty"`
	Status string `json:"status,omitempty"`
	Hidden *bool  `json:"hidden,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

func (s *Service) AdminList(ctx context.Context, opts AdminListOptions) (*SearchResult, error) {
	var conds []interfaces.Filter
	if opts.Status != "" {
		conds = append(conds, interfaces.Eq("status", opts.Status))
	}
	if opts.Hidden != nil {
		conds = append(conds, interfaces.Eq("hidden", *opts.Hidden))
	}
	where := interfaces.Where(conds...)
	if q := strings.TrimSpace(opts.Query); q != "" {
		where = where.And(interfaces.AnyOf(
			interfaces.Where(interfaces.ILike("city", q)),
			interfaces.Where(interfaces.ILike("listing_key", q)),
			interfaces.Where(interfaces.ILike("street_address", q)),
		))
	}

	search, err := SearchOptions{Limit: opts.Limit, Offset: opts.Offset}.Normalize()
	if err != nil {
		return nil, err
	}
	return s.search(ctx, where, search)
}

func (s *Service) SetHidden(ctx context.Context, listingKey string, hidden bool) (*entities.Property, error) {
	row, err := s.repo().Update(ctx, interfaces.StringID(listingKey), map[string]interface{}{"hidden": hidden})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set hidden: %w", err)
	}
	s.logger.Infow("Property visibility changed", "listing_key", listingKey, "hidden", hidden)
	return entities.Decode[entities.Property](row)
}

func (s *Service) Delete(ctx context.Context, listingKey string) error {
	err := s.repo().Delete(ctx, interfaces.StringID(listingKey))
	if errors.Is(err, interfaces.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	s.logger.Infow("Property deleted", "listing_key", listingKey)
	return nil
}

// WithEmbeddings returns visible listings that carry an embedding vector.
func (s *Service) WithEmbeddings(ctx context.Context, limit int) ([]entities.Property, error) {
	where := PublicVisibility().And(interfaces.Where(interfaces.IsNotNull("embedding")))
	page, err := s.repo().FindMany(ctx, &interfaces.Query{
		Where:   where,
		OrderBy: []interfaces.OrderBy{sortOrders[SortUpdated]},
		Limit:   interfaces.Limit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("load embedded properties: %w", err)
	}
	return s.decodeValid(page.Data), nil
}
