package referrals

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/log"
)

func setup(t *testing.T) (*Service, interfaces.Database) {
	t.Helper()
	database := db.NewInMemoryDatabase(log.Nop())
	require.NoError(t, db.ConnectAndMigrate(context.Background(), database, db.AllSchemas()))
	return NewService(database, nil, log.Nop()), database
}

func newUser(t *testing.T, database interfaces.Database, email string) string {
	t.Helper()
	u := &entities.User{Email: email, PasswordHash: "x", Role: entities.RoleUser}
	row, err := database.Repository(entities.UserSchema).Create(context.Background(), u.Record())
	require.NoError(t, err)
	return fmt.Sprint(row["id"])
}

// grant creates an approved reward of points for userID.
func grant(t *testing.T, svc *Service, userID string, points int64) {
	t.Helper()
	ctx := context.Background()
	r, err := svc.RequestReward(ctx, userID, points, "test")
	require.NoError(t, err)
	_, err = svc.DecideReward(ctx, r.ID, entities.RewardApproved)
	require.NoError(t, err)
}

func TestGetOrCreateCodeIsStable(t *testing.T) {
	svc, database := setup(t)
	ctx := context.Background()
	alice := newUser(t, database, "alice@example.com")

	first, err := svc.GetOrCreateCode(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, first.Code, codeLength)

	again, err := svc.GetOrCreateCode(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, first.Code, again.Code)

	resolved, err := svc.Resolve(ctx, " "+first.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, alice, resolved.UserID)

	_, err = svc.Resolve(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestAttributeSignup(t *testing.T) {
	svc, database := setup(t)
	ctx := context.Background()
	alice := newUser(t, database, "alice@example.com")
	bob := newUser(t, database, "bob@example.com")

	code, err := svc.GetOrCreateCode(ctx, alice)
	require.NoError(t, err)

	_, err = svc.AttributeSignup(ctx, alice, code.Code)
	assert.ErrorIs(t, err, ErrSelfReferral)

	reward, err := svc.AttributeSignup(ctx, bob, code.Code)
	require.NoError(t, err)
	assert.Equal(t, alice, reward.UserID)
	assert.Equal(t, int64(SignupRewardPoints), reward.Points)
	assert.Equal(t, entities.RewardRequested, reward.Status)

	_, err = svc.AttributeSignup(ctx, bob, code.Code)
	assert.ErrorIs(t, err, ErrAlreadyReferred)

	row, err := database.Repository(entities.UserSchema).GetByID(ctx, interfaces.StringID(bob))
	require.NoError(t, err)
	assert.Equal(t, alice, row["referred_by"])

	code, err = svc.GetOrCreateCode(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), code.Uses)

	bal, err := svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, bal.Available, "requested rewards are not spendable")
}

func TestRewardTransitions(t *testing.T) {
	svc, database := setup(t)
	ctx := context.Background()
	alice := newUser(t, database, "alice@example.com")

	r, err := svc.RequestReward(ctx, alice, 50, "review")
	require.NoError(t, err)

	_, err = svc.DecideReward(ctx, r.ID, entities.RewardPaid)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	r, err = svc.DecideReward(ctx, r.ID, entities.RewardApproved)
	require.NoError(t, err)
	require.NotNil(t, r.DecidedAt)
	r, err = svc.DecideReward(ctx, r.ID, entities.RewardPaid)
	require.NoError(t, err)
	assert.Equal(t, entities.RewardPaid, r.Status)

	_, err = svc.DecideReward(ctx, r.ID, entities.RewardDenied)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.DecideReward(ctx, "missing", entities.RewardApproved)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.RequestReward(ctx, alice, 0, "")
	assert.ErrorIs(t, err, ErrInvalidPoints)
}

func TestRedeemChecksBalance(t *testing.T) {
	svc, database := setup(t)
	ctx := context.Background()
	alice := newUser(t, database, "alice@example.com")
	grant(t, svc, alice, 100)

	_, err := svc.Redeem(ctx, alice, 101, "")
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	red, err := svc.Redeem(ctx, alice, 60, "gift card")
	require.NoError(t, err)
	assert.Equal(t, entities.RedemptionRequested, red.Status)

	bal, err := svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Balance{Earned: 100, Held: 60, Available: 40}, *bal)

	_, err = svc.Redeem(ctx, alice, 41, "")
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	// Rejected redemptions release their points; fulfilled ones do not.
	_, err = svc.DecideRedemption(ctx, red.ID, entities.RedemptionRejected)
	require.NoError(t, err)
	bal, err = svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal.Available)

	red, err = svc.Redeem(ctx, alice, 100, "")
	require.NoError(t, err)
	_, err = svc.DecideRedemption(ctx, red.ID, entities.RedemptionApproved)
	require.NoError(t, err)
	_, err = svc.DecideRedemption(ctx, red.ID, entities.RedemptionFulfilled)
	require.NoError(t, err)
	bal, err = svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, bal.Available)

	_, err = svc.DecideRedemption(ctx, red.ID, entities.RedemptionRejected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentRedeemNeverOverspends(t *testing.T) {
	svc, database := setup(t)
	ctx := context.Background()
	alice := newUser(t, database, "alice@example.com")
	grant(t, svc, alice, 100)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, alice, 30, "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientPoints)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	bal, err := svc.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal.Available)
}

func TestFamilyGroups(t *testing.T) {
	svc, database := setup(t)
	ctx := context.Background()
	alice := newUser(t, database, "alice@example.com")
	bob := newUser(t, database, "bob@example.com")

	_, err := svc.FamilyOf(ctx, alice)
	assert.ErrorIs(t, err, ErrNotInFamily)

	fam, err := svc.CreateFamily(ctx, alice, "The Smiths")
	require.NoError(t, err)
	require.Len(t, fam.Members, 1)
	assert.Equal(t, entities.FamilyRoleOwner, fam.Members[0].Role)

	_, err = svc.CreateFamily(ctx, alice, "Again")
	assert.ErrorIs(t, err, ErrAlreadyInFamily)

	_, err = svc.JoinFamily(ctx, bob, "wrong")
	assert.ErrorIs(t, err, ErrInvalidCode)
	fam, err = svc.JoinFamily(ctx, bob, fam.Group.InviteCode)
	require.NoError(t, err)
	require.Len(t, fam.Members, 2)
	assert.Equal(t, alice, fam.Members[0].UserID)

	_, err = svc.JoinFamily(ctx, bob, fam.Group.InviteCode)
	assert.ErrorIs(t, err, ErrAlreadyInFamily)

	assert.ErrorIs(t, svc.LeaveFamily(ctx, alice), ErrOwnerCannotLeave)
	require.NoError(t, svc.LeaveFamily(ctx, bob))
	require.NoError(t, svc.LeaveFamily(ctx, alice))

	_, err = svc.FamilyOf(ctx, alice)
	assert.ErrorIs(t, err, ErrNotInFamily)
}
