package referrals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/store"
)

var rewardTransitions = map[string][]string{
	entities.RewardRequested: {entities.RewardApproved, entities.RewardDenied},
	entities.RewardApproved:  {entities.RewardPaid},
}

var redemptionTransitions = map[string][]string{
	entities.RedemptionRequested: {entities.RedemptionApproved, entities.RedemptionRejected},
	entities.RedemptionApproved:  {entities.RedemptionFulfilled},
}

// Rewards in these states count towards what a user has earned.
var earnedStatuses = []interface{}{entities.RewardApproved, entities.RewardPaid}

// Redemptions in these states hold points. Fulfilled ones stay spent.
var heldStatuses = []interface{}{entities.RedemptionRequested, entities.RedemptionApproved, entities.RedemptionFulfilled}

func allowed(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RequestReward files a reward request for admin review.
func (s *Service) RequestReward(ctx context.Context, userID string, points int64, reason string) (*entities.ReferralReward, error) {
	if points <= 0 {
		return nil, ErrInvalidPoints
	}
	data := map[string]interface{}{
		"user_id": userID,
		"points":  points,
		"status":  entities.RewardRequested,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		data["reason"] = reason
	}
	row, err := s.db.Repository(entities.ReferralRewardSchema).Create(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("request reward: %w", err)
	}
	return entities.Decode[entities.ReferralReward](row)
}

// Rewards lists rewards newest first, filtered by user and status when set.
func (s *Service) Rewards(ctx context.Context, userID, status string) ([]entities.ReferralReward, error) {
	page, err := s.db.Repository(entities.ReferralRewardSchema).FindMany(ctx, &interfaces.Query{
		Where:   ownerStatus(userID, status),
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "desc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	return entities.DecodeAll[entities.ReferralReward](page.Data)
}

// Redemptions lists redemptions newest first, filtered by user and status when set.
func (s *Service) Redemptions(ctx context.Context, userID, status string) ([]entities.ReferralRedemption, error) {
	page, err := s.db.Repository(entities.ReferralRedemptionSchema).FindMany(ctx, &interfaces.Query{
		Where:   ownerStatus(userID, status),
		OrderBy: []interfaces.OrderBy{{Field: "created_at", Direction: "desc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return entities.DecodeAll[entities.ReferralRedemption](page.Data)
}

func ownerStatus(userID, status string) *interfaces.Filters {
	var conds []interfaces.Filter
	if userID != "" {
		conds = append(conds, interfaces.Eq("user_id", userID))
	}
	if status != "" {
		conds = append(conds, interfaces.Eq("status", status))
	}
	return interfaces.Where(conds...)
}

// DecideReward moves a reward along requested → approved → paid or
// requested → denied.
func (s *Service) DecideReward(ctx context.Context, id, to string) (*entities.ReferralReward, error) {
	row, err := s.transition(ctx, entities.ReferralRewardSchema, rewardTransitions, id, to)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Reward status changed", "id", id, "status", to)
	return entities.Decode[entities.ReferralReward](row)
}

// DecideRedemption moves a redemption along requested → approved →
// fulfilled or requested → rejected.
func (s *Service) DecideRedemption(ctx context.Context, id, to string) (*entities.ReferralRedemption, error) {
	row, err := s.transition(ctx, entities.ReferralRedemptionSchema, redemptionTransitions, id, to)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("Redemption status changed", "id", id, "status", to)
	return entities.Decode[entities.ReferralRedemption](row)
}

func (s *Service) transition(ctx context.Context, schema *interfaces.Schema, table map[string][]string, id, to string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := s.db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if err := tx.Lock(ctx, schema.TableName+":"+id); err != nil {
			return err
		}
		repo := tx.Repository(schema)
		row, err := repo.GetByID(ctx, interfaces.StringID(id))
		if errors.Is(err, interfaces.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		from, _ := row["status"].(string)
		if !allowed(table, from, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
		}
		out, err = repo.Update(ctx, interfaces.StringID(id), map[string]interface{}{
			"status":     to,
			"decided_at": s.now(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance summarizes a user's points.
type Balance struct {
	Earned    int64 `json:"earned"`
	Held      int64 `json:"held"`
	Available int64 `json:"available"`
}

func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	return balance(ctx, s.db.Repository(entities.ReferralRewardSchema), s.db.Repository(entities.ReferralRedemptionSchema), userID)
}

func balance(ctx context.Context, rewards, redemptions interfaces.Repository, userID string) (*Balance, error) {
	earned, err := sumPoints(ctx, rewards, userID, earnedStatuses)
	if err != nil {
		return nil, fmt.Errorf("sum rewards: %w", err)
	}
	held, err := sumPoints(ctx, redemptions, userID, heldStatuses)
	if err != nil {
		return nil, fmt.Errorf("sum redemptions: %w", err)
	}
	return &Balance{Earned: earned, Held: held, Available: earned - held}, nil
}

func sumPoints(ctx context.Context, repo interfaces.Repository, userID string, statuses []interface{}) (int64, error) {
	page, err := repo.FindMany(ctx, &interfaces.Query{
		Where: interfaces.Where(
			interfaces.Eq("user_id", userID),
			interfaces.In("status", statuses...),
		),
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, row := range page.Data {
		n, _ := interfaces.ToFloat(row["points"])
		total += int64(n)
	}
	return total, nil
}

// Redeem reserves points for a payout. The balance check and the insert run
// in one transaction holding a per-user lock, so concurrent requests cannot
// both spend the same points.
func (s *Service) Redeem(ctx context.Context, userID string, points int64, note string) (*entities.ReferralRedemption, error) {
	if points <= 0 {
		return nil, ErrInvalidPoints
	}
	var redemption *entities.ReferralRedemption
	err := s.db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if err := tx.Lock(ctx, "referral:"+userID); err != nil {
			return err
		}
		redemptions := tx.Repository(entities.ReferralRedemptionSchema)
		bal, err := balance(ctx, tx.Repository(entities.ReferralRewardSchema), redemptions, userID)
		if err != nil {
			return err
		}
		if points > bal.Available {
			return fmt.Errorf("%w: requested %d, available %d", ErrInsufficientPoints, points, bal.Available)
		}
		data := map[string]interface{}{
			"user_id": userID,
			"points":  points,
			"status":  entities.RedemptionRequested,
		}
		if note = strings.TrimSpace(note); note != "" {
			data["note"] = note
		}
		row, err := redemptions.Create(ctx, data)
		if err != nil {
			return err
		}
		redemption, err = entities.Decode[entities.ReferralRedemption](row)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			return nil, err
		}
		return nil, fmt.Errorf("redeem points: %w", err)
	}
	s.logger.Infow("Points redeemed", "user_id", userID, "points", points)
	s.events.Publish(ctx, store.ChannelReferralRedeemed, map[string]interface{}{"userId": userID, "points": points})
	return redemption, nil
}
