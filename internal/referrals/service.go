// Package referrals runs the referral program: codes, family groups,
// point rewards and redemptions.
package referrals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/store"
)

const (
	codeLength         = 8
	codeAttempts       = 5
	SignupRewardPoints = 100
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCode        = errors.New("invalid referral code")
	ErrSelfReferral       = errors.New("cannot use your own referral code")
	ErrAlreadyReferred    = errors.New("user was already referred")
	ErrInvalidPoints      = errors.New("points must be positive")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrAlreadyInFamily    = errors.New("user already belongs to a family group")
	ErrNotInFamily        = errors.New("user is not in a family group")
	ErrOwnerCannotLeave   = errors.New("owner cannot leave while members remain")
)

type Service struct {
	db     interfaces.Database
	events *store.Events
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewService(db interfaces.Database, events *store.Events, logger *zap.SugaredLogger) *Service {
	return &Service{
		db:     db,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) codes() interfaces.Repository {
	return s.db.Repository(entities.ReferralCodeSchema)
}

// newCode returns eight upper-case hex characters from a random UUID.
func newCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:codeLength])
}

// GetOrCreateCode returns the user's referral code, creating it on first use.
func (s *Service) GetOrCreateCode(ctx context.Context, userID string) (*entities.ReferralCode, error) {
	if code, err := s.codeFor(ctx, userID); !errors.Is(err, ErrNotFound) {
		return code, err
	}
	for i := 0; i < codeAttempts; i++ {
		row, err := s.codes().Create(ctx, map[string]interface{}{
			"user_id": userID,
			"code":    newCode(),
		})
		if err == nil {
			s.logger.Infow("Referral code created", "user_id", userID)
			return entities.Decode[entities.ReferralCode](row)
		}
		if !errors.Is(err, interfaces.ErrUniqueConstraint) {
			return nil, fmt.Errorf("create referral code: %w", err)
		}
		// Either the code collided or a concurrent call created one for this user.
		if code, err := s.codeFor(ctx, userID); err == nil {
			return code, nil
		}
	}
	return nil, fmt.Errorf("create referral code: no unique code after %d attempts", codeAttempts)
}

func (s *Service) codeFor(ctx context.Context, userID string) (*entities.ReferralCode, error) {
	row, err := s.codes().FindOne(ctx, &interfaces.Query{
		Where: interfaces.Where(interfaces.Eq("user_id", userID)),
	})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find referral code: %w", err)
	}
	return entities.Decode[entities.ReferralCode](row)
}

// Resolve looks a code up case-insensitively.
func (s *Service) Resolve(ctx context.Context, code string) (*entities.ReferralCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return nil, ErrInvalidCode
	}
	row, err := s.codes().FindOne(ctx, &interfaces.Query{
		Where: interfaces.Where(interfaces.Eq("code", code)),
	})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("resolve referral code: %w", err)
	}
	return entities.Decode[entities.ReferralCode](row)
}

// AttributeSignup credits the owner of code for bringing in newUserID: the
// new user records who referred them, the code's use count goes up and the
// referrer gets a reward awaiting approval.
func (s *Service) AttributeSignup(ctx context.Context, newUserID, code string) (*entities.ReferralReward, error) {
	ref, err := s.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if ref.UserID == newUserID {
		return nil, ErrSelfReferral
	}

	var reward *entities.ReferralReward
	err = s.db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		users := tx.Repository(entities.UserSchema)
		row, err := users.GetByID(ctx, interfaces.StringID(newUserID))
		if err != nil {
			return err
		}
		if row["referred_by"] != nil {
			return ErrAlreadyReferred
		}
		if _, err := users.Update(ctx, interfaces.StringID(newUserID), map[string]interface{}{"referred_by": ref.UserID}); err != nil {
			return err
		}
		if _, err := tx.Repository(entities.ReferralCodeSchema).Update(ctx, interfaces.StringID(ref.ID),
			map[string]interface{}{"uses": ref.Uses + 1}); err != nil {
			return err
		}
		created, err := tx.Repository(entities.ReferralRewardSchema).Create(ctx, map[string]interface{}{
			"user_id":        ref.UserID,
			"points":         int64(SignupRewardPoints),
			"reason":         "referral signup",
			"status":         entities.RewardRequested,
			"source_user_id": newUserID,
		})
		if err != nil {
			return err
		}
		reward, err = entities.Decode[entities.ReferralReward](created)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("attribute signup: %w", err)
	}
	s.logger.Infow("Referral signup attributed", "referrer_id", ref.UserID, "user_id", newUserID)
	return reward, nil
}
