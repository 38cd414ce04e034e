package referrals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Family is a group with its members, owner first.
type Family struct {
	Group   entities.FamilyGroup    `json:"group"`
	Members []entities.FamilyMember `json:"members"`
}

// CreateFamily starts a group owned by ownerID, who becomes its first member.
func (s *Service) CreateFamily(ctx context.Context, ownerID, name string) (*Family, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "My family"
	}
	var groupID string
	err := s.db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if err := tx.Lock(ctx, "family:"+ownerID); err != nil {
			return err
		}
		members := tx.Repository(entities.FamilyMemberSchema)
		if _, err := members.FindOne(ctx, memberOf(ownerID)); err == nil {
			return ErrAlreadyInFamily
		} else if !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		group, err := tx.Repository(entities.FamilyGroupSchema).Create(ctx, map[string]interface{}{
			"name":        name,
			"owner_id":    ownerID,
			"invite_code": newCode(),
		})
		if err != nil {
			return err
		}
		groupID = fmt.Sprint(group["id"])
		_, err = members.Create(ctx, map[string]interface{}{
			"group_id": groupID,
			"user_id":  ownerID,
			"role":     entities.FamilyRoleOwner,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyInFamily) {
			return nil, err
		}
		return nil, fmt.Errorf("create family: %w", err)
	}
	s.logger.Infow("Family group created", "group_id", groupID, "owner_id", ownerID)
	return s.family(ctx, groupID)
}

// JoinFamily adds userID to the group whose invite code matches.
func (s *Service) JoinFamily(ctx context.Context, userID, inviteCode string) (*Family, error) {
	row, err := s.db.Repository(entities.FamilyGroupSchema).FindOne(ctx, &interfaces.Query{
		Where: interfaces.Where(interfaces.Eq("invite_code", strings.ToUpper(strings.TrimSpace(inviteCode)))),
	})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("find family: %w", err)
	}
	groupID := fmt.Sprint(row["id"])
	_, err = s.db.Repository(entities.FamilyMemberSchema).Create(ctx, map[string]interface{}{
		"group_id": groupID,
		"user_id":  userID,
		"role":     entities.FamilyRoleMember,
	})
	if errors.Is(err, interfaces.ErrUniqueConstraint) {
		return nil, ErrAlreadyInFamily
	}
	if err != nil {
		return nil, fmt.Errorf("join family: %w", err)
	}
	s.logger.Infow("Joined family group", "group_id", groupID, "user_id", userID)
	return s.family(ctx, groupID)
}

// FamilyOf returns the group userID belongs to.
func (s *Service) FamilyOf(ctx context.Context, userID string) (*Family, error) {
	row, err := s.db.Repository(entities.FamilyMemberSchema).FindOne(ctx, memberOf(userID))
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotInFamily
	}
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	return s.family(ctx, fmt.Sprint(row["group_id"]))
}

// LeaveFamily removes userID from their group. An owner may only leave an
// otherwise empty group, which is then dissolved.
func (s *Service) LeaveFamily(ctx context.Context, userID string) error {
	fam, err := s.FamilyOf(ctx, userID)
	if err != nil {
		return err
	}
	if fam.Group.OwnerID == userID {
		if len(fam.Members) > 1 {
			return ErrOwnerCannotLeave
		}
		// Members cascade with the group.
		return s.db.Repository(entities.FamilyGroupSchema).Delete(ctx, interfaces.StringID(fam.Group.ID))
	}
	for _, m := range fam.Members {
		if m.UserID == userID {
			return s.db.Repository(entities.FamilyMemberSchema).Delete(ctx, interfaces.StringID(m.ID))
		}
	}
	return ErrNotInFamily
}

func (s *Service) family(ctx context.Context, groupID string) (*Family, error) {
	row, err := s.db.Repository(entities.FamilyGroupSchema).GetByID(ctx, interfaces.StringID(groupID))
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	group, err := entities.Decode[entities.FamilyGroup](row)
	if err != nil {
		return nil, err
	}
	page, err := s.db.Repository(entities.FamilyMemberSchema).FindMany(ctx, &interfaces.Query{
		Where:   interfaces.Where(interfaces.Eq("group_id", groupID)),
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	members, err := entities.DecodeAll[entities.FamilyMember](page.Data)
	if err != nil {
		return nil, err
	}
	for i, m := range members {
		if m.Role == entities.FamilyRoleOwner && i > 0 {
			members[0], members[i] = members[i], members[0]
		}
	}
	return &Family{Group: *group, Members: members}, nil
}

func memberOf(userID string) *interfaces.Query {
	return &interfaces.Query{Where: interfaces.Where(interfaces.Eq("user_id", userID))}
}
