package entities

import (
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
)

const (
	CommentStatusPending  = "pending"
	CommentStatusApproved = "approved"
	CommentStatusRejected = "rejected"
)

// Post is a blog article.
type Post struct {
	ID              string     `json:"id" db:"id"`
	Slug            string     `json:"slug" db:"slug"`
	Status          string     `json:"status" db:"status"`
	TitlePrimary    string     `json:"title" db:"title_primary"`
	MetaDescription *string    `json:"metaDescription,omitempty" db:"meta_description"`
	ContentMD       string     `json:"contentMd" db:"content_md"`
	Excerpt         *string    `json:"excerpt,omitempty" db:"excerpt"`
	HeroImageURL    *string    `json:"heroImageUrl,omitempty" db:"hero_image_url"`
	Tags            []string   `json:"tags,omitempty" db:"tags"`
	Keywords        []string   `json:"keywords,omitempty" db:"keywords"`
	City            *string    `json:"city,omitempty" db:"city"`
	Template        *string    `json:"template,omitempty" db:"template"`
	AuthorID        *string    `json:"authorId,omitempty" db:"author_id"`
	Embedding       []float64  `json:"-" db:"embedding"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty" db:"scheduled_at"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty" db:"published_at"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

var PostSchema = &interfaces.Schema{
	TableName: "posts",
	Fields: map[string]interfaces.FieldSchema{
		"id":               {Type: interfaces.FieldString, PrimaryKey: true},
		"slug":             {Type: interfaces.FieldString, Unique: true},
		"status":           {Type: interfaces.FieldString, DefaultValue: PostStatusDraft},
		"title_primary":    {Type: interfaces.FieldString},
		"meta_description": {Type: interfaces.FieldString, Nullable: true},
		"content_md":       {Type: interfaces.FieldString, DefaultValue: ""},
		"excerpt":          {Type: interfaces.FieldString, Nullable: true},
		"hero_image_url":   {Type: interfaces.FieldString, Nullable: true},
		"tags":             {Type: interfaces.FieldStringArray, Nullable: true},
		"keywords":         {Type: interfaces.FieldStringArray, Nullable: true},
		"city":             {Type: interfaces.FieldString, Nullable: true},
		"template":         {Type: interfaces.FieldString, Nullable: true},
		"author_id": {
			Type:       interfaces.FieldString,
			Nullable:   true,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "SET_NULL"},
		},
		"embedding":    {Type: interfaces.FieldFloatArray, Nullable: true},
		"scheduled_at": {Type: interfaces.FieldTime, Nullable: true},
		"published_at": {Type: interfaces.FieldTime, Nullable: true},
		"created_at":   {Type: interfaces.FieldTime},
		"updated_at":   {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_posts_status_scheduled", Columns: []string{"status", "scheduled_at"}},
		{Name: "idx_posts_published", Columns: []string{"published_at"}},
	},
}

// PostTitleVariant is an A/B headline for a post.
type PostTitleVariant struct {
	ID          string    `json:"id" db:"id"`
	PostID      string    `json:"postId" db:"post_id"`
	Label       string    `json:"label" db:"label"`
	Title       string    `json:"title" db:"title"`
	Impressions int64     `json:"impressions" db:"impressions"`
	Clicks      int64     `json:"clicks" db:"clicks"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

var PostTitleVariantSchema = &interfaces.Schema{
	TableName: "post_title_variants",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: interfaces.FieldString, PrimaryKey: true},
		"post_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "posts", Column: "id", OnDelete: "CASCADE"},
		},
		"label":       {Type: interfaces.FieldString},
		"title":       {Type: interfaces.FieldString},
		"impressions": {Type: interfaces.FieldInt64, DefaultValue: 0},
		"clicks":      {Type: interfaces.FieldInt64, DefaultValue: 0},
		"created_at":  {Type: interfaces.FieldTime},
		"updated_at":  {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "uq_post_title_variants_post_label", Columns: []string{"post_id", "label"}, Unique: true},
	},
}

// PostProperty links a post to a related listing with a similarity score.
type PostProperty struct {
	ID         string    `json:"id" db:"id"`
	PostID     string    `json:"postId" db:"post_id"`
	PropertyID string    `json:"propertyId" db:"property_id"`
	Score      float64   `json:"score" db:"score"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

var PostPropertySchema = &interfaces.Schema{
	TableName: "post_properties",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: interfaces.FieldString, PrimaryKey: true},
		"post_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "posts", Column: "id", OnDelete: "CASCADE"},
		},
		"property_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "properties", Column: "listing_key", OnDelete: "CASCADE"},
		},
		"score":      {Type: interfaces.FieldFloat64},
		"created_at": {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "uq_post_properties_post_property", Columns: []string{"post_id", "property_id"}, Unique: true},
	},
}

// Comment is a reader comment awaiting or past moderation.
type Comment struct {
	ID          string    `json:"id" db:"id"`
	PostID      string    `json:"postId" db:"post_id"`
	AuthorName  string    `json:"authorName" db:"author_name"`
	AuthorEmail *string   `json:"-" db:"author_email"`
	Body        string    `json:"body" db:"body"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

var CommentSchema = &interfaces.Schema{
	TableName: "comments",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: interfaces.FieldString, PrimaryKey: true},
		"post_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "posts", Column: "id", OnDelete: "CASCADE"},
		},
		"author_name":  {Type: interfaces.FieldString},
		"author_email": {Type: interfaces.FieldString, Nullable: true},
		"body":         {Type: interfaces.FieldString},
		"status":       {Type: interfaces.FieldString, DefaultValue: CommentStatusPending},
		"created_at":   {Type: interfaces.FieldTime},
		"updated_at":   {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_comments_post_status", Columns: []string{"post_id", "status"}},
	},
}
