package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/mmynk/splitsync/internal/models"
)

var (
	// ErrMemberNotFound is returned when the claim target does not exist.
	ErrMemberNotFound = errors.New("member not found")
	// ErrMemberClaimed is returned when the member is already linked to a
	// different account.
	ErrMemberClaimed = errors.New("member already claimed")
	// ErrAccountClaimed is returned when the account already claimed
	// another member on this bill.
	ErrAccountClaimed = errors.New("account already claimed a member on this bill")
)

// ClaimMember binds a bill member to the acting account: the member takes
// the account's display name, keeps its pre-claim name as originalName, and
// records who claimed it and when. A member can be linked to at most one
// account and an account can claim at most one member per bill. Claiming is
// a server-side edit, so it bumps the bill version and notifies like any
// other reconciliation.
//
// Claiming a member the account already holds is idempotent.
func (e *Engine) ClaimMember(ctx context.Context, billID, memberID string, user *models.User) (*models.Bill, error) {
	bill, err := e.store.LoadBillWithDetails(ctx, billID)
	if err != nil {
		return nil, err
	}

	member := bill.MemberByServerID(memberID)
	if member == nil {
		return nil, ErrMemberNotFound
	}
	if member.ClaimedBy == user.ID {
		return bill, nil
	}
	if member.ClaimedBy != "" {
		return nil, ErrMemberClaimed
	}
	for i := range bill.Members {
		if bill.Members[i].ClaimedBy == user.ID {
			return nil, ErrAccountClaimed
		}
	}

	member.OriginalName = member.Name
	member.Name = user.DisplayName
	member.ClaimedBy = user.ID
	member.ClaimedAt = time.Now().Unix()

	expected := bill.Version
	bill.Version = expected + 1
	if err := e.store.SaveBill(ctx, bill, expected); err != nil {
		return nil, err
	}
	e.notifier.NotifyBillUpdated(ctx, billID, bill.Version, user.ID)
	return bill, nil
}
