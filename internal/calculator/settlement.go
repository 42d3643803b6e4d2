// Package calculator computes member balances and the minimal transfer list
// that zeroes them. It is a pure function over a reconciled bill and is
// shared by client and server.
package calculator

import (
	"math"
	"sort"

	"github.com/mmynk/splitsync/internal/models"
)

// epsilon absorbs floating point noise when comparing balances to zero.
const epsilon = 0.01

// MemberBalance represents the balance information for one bill member.
type MemberBalance struct {
	MemberID   string  `json:"memberId"`
	TotalPaid  float64 `json:"totalPaid"`
	TotalOwed  float64 `json:"totalOwed"`
	NetBalance float64 `json:"netBalance"` // Positive = owed money, negative = owes money
}

// Transfer is one point-to-point payment in the settlement plan.
type Transfer struct {
	FromMemberID string  `json:"fromMemberId"`
	ToMemberID   string  `json:"toMemberId"`
	Amount       float64 `json:"amount"`

	// Settled reports whether the (from, to) pair is marked confirmed paid
	// on the bill. Display-only: a mark keyed by pair survives amount
	// changes from later edits unless explicitly unmarked.
	Settled bool `json:"settled"`
}

// ComputeBalances aggregates who paid what and who owes what across all
// expenses of the bill.
//
// For each expense (or each item of an itemized expense) the fee-inclusive
// amount is attributed to the payer as paid, and each participant owes an
// equal share of it:
//
//	share = amount * (1 + serviceFeePercent/100) / participantCount
//
// Members are returned in bill order so results are deterministic.
func ComputeBalances(bill *models.Bill) []MemberBalance {
	paid := make(map[string]float64)
	owed := make(map[string]float64)

	addSplit := func(amount float64, feePercent float64, payerID string, participants []string) {
		if payerID == "" || len(participants) == 0 {
			return
		}
		gross := amount * (1 + feePercent/100)
		paid[payerID] += gross
		share := gross / float64(len(participants))
		for _, p := range participants {
			owed[p] += share
		}
	}

	for _, e := range bill.Expenses {
		if e.IsItemized {
			for _, it := range e.Items {
				addSplit(it.Amount, e.ServiceFeePercent, it.PayerID, it.ParticipantIDs)
			}
			continue
		}
		addSplit(e.Amount, e.ServiceFeePercent, e.PayerID, e.ParticipantIDs)
	}

	balances := make([]MemberBalance, 0, len(bill.Members))
	for _, m := range bill.Members {
		balances = append(balances, MemberBalance{
			MemberID:   m.ID,
			TotalPaid:  paid[m.ID],
			TotalOwed:  owed[m.ID],
			NetBalance: paid[m.ID] - owed[m.ID],
		})
	}
	return balances
}

// Settle reduces the balances to a minimal transfer list: repeatedly match
// the creditor with the largest remaining balance against the debtor with
// the largest remaining debt and transfer the smaller of the two. This
// yields at most N-1 transfers for N members with nonzero balance and is
// deterministic (ties broken by member ID).
func Settle(balances []MemberBalance) []Transfer {
	remaining := make(map[string]float64, len(balances))
	var creditors, debtors []string
	for _, b := range balances {
		if b.NetBalance > epsilon {
			creditors = append(creditors, b.MemberID)
			remaining[b.MemberID] = b.NetBalance
		} else if b.NetBalance < -epsilon {
			debtors = append(debtors, b.MemberID)
			remaining[b.MemberID] = b.NetBalance
		}
	}
	sort.Strings(creditors)
	sort.Strings(debtors)

	var transfers []Transfer
	for {
		creditor := largest(creditors, remaining, 1)
		debtor := largest(debtors, remaining, -1)
		if creditor == "" || debtor == "" {
			break
		}

		amount := math.Min(remaining[creditor], -remaining[debtor])
		transfers = append(transfers, Transfer{
			FromMemberID: debtor,
			ToMemberID:   creditor,
			Amount:       amount,
		})
		remaining[creditor] -= amount
		remaining[debtor] += amount
	}
	return transfers
}

// largest returns the member with the largest remaining balance in the given
// direction (+1 creditors, -1 debtors), or "" once everyone in the list is
// within epsilon of zero. The candidate lists are pre-sorted, so equal
// balances resolve to the smaller member ID.
func largest(ids []string, remaining map[string]float64, sign float64) string {
	best := ""
	bestVal := epsilon
	for _, id := range ids {
		if v := sign * remaining[id]; v > bestVal {
			best = id
			bestVal = v
		}
	}
	return best
}

// MarkSettled fills in each transfer's Settled flag from the bill's settled
// transfer marks. The computed amounts are unaffected.
func MarkSettled(transfers []Transfer, bill *models.Bill) {
	for i := range transfers {
		transfers[i].Settled = bill.HasSettledTransfer(transfers[i].FromMemberID, transfers[i].ToMemberID)
	}
}

// SettleBill is the full pipeline: balances, transfer plan, settled marks.
func SettleBill(bill *models.Bill) ([]MemberBalance, []Transfer) {
	balances := ComputeBalances(bill)
	transfers := Settle(balances)
	MarkSettled(transfers, bill)
	return balances, transfers
}
