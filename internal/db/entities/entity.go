// Package entities defines the typed rows and schemas of every table.
package entities

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Decode converts a repository record into T using the struct's db tags.
func Decode[T any](record map[string]interface{}) (*T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "db",
		Result:  &out,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(record); err != nil {
		return nil, fmt.Errorf("decode %T: %w", out, err)
	}
	return &out, nil
}

// DecodeAll decodes every record, failing on the first bad one.
func DecodeAll[T any](records []map[string]interface{}) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// All returns every schema in dependency order.
func All() []*interfaces.Schema {
	return []*interfaces.Schema{
		UserSchema,
		PropertySchema,
		PostSchema,
		PostTitleVariantSchema,
		PostPropertySchema,
		CommentSchema,
		LandingPageSchema,
		LeadSchema,
		FamilyGroupSchema,
		FamilyMemberSchema,
		ReferralCodeSchema,
		ReferralRewardSchema,
		ReferralRedemptionSchema,
		PageViewSchema,
		NewsletterSubscriberSchema,
		AdminSettingSchema,
		DiscoveredTopicSchema,
	}
}

func optional[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
