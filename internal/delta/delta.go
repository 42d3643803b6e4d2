package delta

import (
	"github.com/mmynk/splitsync/internal/models"
	"github.com/mmynk/splitsync/internal/wire"
)

// DeletedIDs carries the server identifiers of entities deleted locally
// since the snapshot. The client records them at deletion time, before the
// working copy loses the entity (and with it the identifier).
type DeletedIDs struct {
	Members      []string `json:"members,omitempty"`
	Expenses     []string `json:"expenses,omitempty"`
	ExpenseItems []string `json:"expenseItems,omitempty"`
}

// BuildRequest diffs the working bill against the snapshot and produces the
// change-set to transmit, or nil when nothing changed (the empty delta is
// never transmitted). The snapshot may be nil for a bill that has never been
// synced, in which case everything is an Add.
//
// Entities without a server identifier become Adds with lenient reference
// resolution. Entities with a server identifier and a snapshot counterpart
// become Updates only when a tracked field differs, with strict reference
// resolution. Deletions come from the caller-tracked DeletedIDs.
func BuildRequest(bill *models.Bill, snap *models.Snapshot, deleted DeletedIDs) (*wire.SyncRequest, error) {
	r := &resolver{bill: bill, snap: snap}
	req := &wire.SyncRequest{BaseVersion: bill.Version}

	members, err := memberChanges(bill, snap, deleted.Members)
	if err != nil {
		return nil, err
	}
	req.Members = members

	expenses, err := expenseChanges(r, bill, snap, deleted.Expenses)
	if err != nil {
		return nil, err
	}
	req.Expenses = expenses

	items, err := itemChanges(r, bill, snap, deleted.ExpenseItems)
	if err != nil {
		return nil, err
	}
	req.ExpenseItems = items

	settlements, err := settlementChanges(r, bill, snap)
	if err != nil {
		return nil, err
	}
	req.Settlements = settlements

	if snap == nil || bill.Name != snap.Name {
		req.BillMeta = &wire.BillMetaChange{Name: bill.Name}
	}

	if req.Empty() {
		return nil, nil
	}
	return req, nil
}

func memberChanges(bill *models.Bill, snap *models.Snapshot, deleted []string) (*wire.MemberChanges, error) {
	changes := &wire.MemberChanges{Delete: deleted}
	for _, m := range bill.Members {
		if m.ServerID == "" {
			changes.Add = append(changes.Add, wire.MemberAdd{LocalID: m.ID, Name: m.Name})
			continue
		}
		prev := snapMember(snap, m.ID)
		if prev == nil {
			// Carries a server id the snapshot does not know about; a full
			// resync replaced the snapshot. Nothing to diff against.
			continue
		}
		if m.Name != prev.Name {
			changes.Update = append(changes.Update, wire.MemberUpdate{ID: m.ServerID, Name: m.Name})
		}
	}
	if len(changes.Add) == 0 && len(changes.Update) == 0 && len(changes.Delete) == 0 {
		return nil, nil
	}
	return changes, nil
}

func expenseChanges(r *resolver, bill *models.Bill, snap *models.Snapshot, deleted []string) (*wire.ExpenseChanges, error) {
	changes := &wire.ExpenseChanges{Delete: deleted}
	for _, e := range bill.Expenses {
		if e.ServerID == "" {
			add := wire.ExpenseAdd{
				LocalID:           e.ID,
				Name:              e.Name,
				Amount:            e.Amount,
				ServiceFeePercent: e.ServiceFeePercent,
				IsItemized:        e.IsItemized,
			}
			if !e.IsItemized {
				add.PayerID = r.lenientMember(e.PayerID)
				add.ParticipantIDs = r.lenientMembers(e.ParticipantIDs)
			}
			changes.Add = append(changes.Add, add)
			continue
		}
		prev := snapExpense(snap, e.ID)
		if prev == nil {
			continue
		}
		if !expenseDiffers(&e, prev) {
			continue
		}
		update := wire.ExpenseUpdate{
			ID:                e.ServerID,
			Name:              e.Name,
			Amount:            e.Amount,
			ServiceFeePercent: e.ServiceFeePercent,
			IsItemized:        e.IsItemized,
		}
		// Itemized expenses delegate payer/participants entirely to their
		// items; the fields stay omitted, which is distinct from clearing.
		if !e.IsItemized {
			payer, err := r.strictMember(e.PayerID)
			if err != nil {
				return nil, err
			}
			update.PayerID = &payer
			participants, err := r.strictMembers(e.ParticipantIDs)
			if err != nil {
				return nil, err
			}
			if participants == nil {
				participants = []string{}
			}
			update.ParticipantIDs = &participants
		}
		changes.Update = append(changes.Update, update)
	}
	if len(changes.Add) == 0 && len(changes.Update) == 0 && len(changes.Delete) == 0 {
		return nil, nil
	}
	return changes, nil
}

func itemChanges(r *resolver, bill *models.Bill, snap *models.Snapshot, deleted []string) (*wire.ExpenseItemChanges, error) {
	changes := &wire.ExpenseItemChanges{Delete: deleted}
	for _, e := range bill.Expenses {
		for _, it := range e.Items {
			if it.ServerID == "" {
				changes.Add = append(changes.Add, wire.ExpenseItemAdd{
					LocalID:        it.ID,
					ExpenseID:      r.lenientExpense(e.ID),
					Name:           it.Name,
					Amount:         it.Amount,
					PayerID:        r.lenientMember(it.PayerID),
					ParticipantIDs: r.lenientMembers(it.ParticipantIDs),
				})
				continue
			}
			prev := snapItem(snap, it.ID)
			if prev == nil {
				continue
			}
			if !itemDiffers(&it, prev) {
				continue
			}
			payer, err := r.strictMember(it.PayerID)
			if err != nil {
				return nil, err
			}
			participants, err := r.strictMembers(it.ParticipantIDs)
			if err != nil {
				return nil, err
			}
			changes.Update = append(changes.Update, wire.ExpenseItemUpdate{
				ID:             it.ServerID,
				Name:           it.Name,
				Amount:         it.Amount,
				PayerID:        payer,
				ParticipantIDs: participants,
			})
		}
	}
	if len(changes.Add) == 0 && len(changes.Update) == 0 && len(changes.Delete) == 0 {
		return nil, nil
	}
	return changes, nil
}

// settlementChanges derives mark/unmark sets from the set difference between
// current and snapshot settled transfers. Settlement only ever references
// already-existing members, so resolution is strict.
func settlementChanges(r *resolver, bill *models.Bill, snap *models.Snapshot) (*wire.SettlementChanges, error) {
	changes := &wire.SettlementChanges{}
	for _, st := range bill.SettledTransfers {
		if snap != nil && snap.HasSettledTransfer(st.FromMemberID, st.ToMemberID) {
			continue
		}
		key, err := resolveTransferKey(r, st)
		if err != nil {
			return nil, err
		}
		changes.Mark = append(changes.Mark, key)
	}
	if snap != nil {
		for _, st := range snap.SettledTransfers {
			if bill.HasSettledTransfer(st.FromMemberID, st.ToMemberID) {
				continue
			}
			// The members may no longer exist in the working copy; the
			// snapshot still knows their server ids.
			changes.Unmark = append(changes.Unmark, wire.TransferKey{
				FromMemberID: snapServerID(snap, st.FromMemberID),
				ToMemberID:   snapServerID(snap, st.ToMemberID),
			})
		}
	}
	if len(changes.Mark) == 0 && len(changes.Unmark) == 0 {
		return nil, nil
	}
	return changes, nil
}

func resolveTransferKey(r *resolver, st models.SettledTransfer) (wire.TransferKey, error) {
	from, err := r.strictMember(st.FromMemberID)
	if err != nil {
		return wire.TransferKey{}, err
	}
	to, err := r.strictMember(st.ToMemberID)
	if err != nil {
		return wire.TransferKey{}, err
	}
	return wire.TransferKey{FromMemberID: from, ToMemberID: to}, nil
}

func expenseDiffers(cur *models.Expense, prev *models.Expense) bool {
	if cur.Name != prev.Name || cur.Amount != prev.Amount ||
		cur.ServiceFeePercent != prev.ServiceFeePercent || cur.IsItemized != prev.IsItemized {
		return true
	}
	if cur.IsItemized {
		// Item-level changes travel as expense item updates.
		return false
	}
	return cur.PayerID != prev.PayerID || !equalStrings(cur.ParticipantIDs, prev.ParticipantIDs)
}

func itemDiffers(cur *models.ExpenseItem, prev *models.ExpenseItem) bool {
	return cur.Name != prev.Name || cur.Amount != prev.Amount ||
		cur.PayerID != prev.PayerID || !equalStrings(cur.ParticipantIDs, prev.ParticipantIDs)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func snapMember(snap *models.Snapshot, id string) *models.Member {
	if snap == nil {
		return nil
	}
	return snap.MemberByID(id)
}

func snapExpense(snap *models.Snapshot, id string) *models.Expense {
	if snap == nil {
		return nil
	}
	return snap.ExpenseByID(id)
}

func snapItem(snap *models.Snapshot, id string) *models.ExpenseItem {
	if snap == nil {
		return nil
	}
	return snap.ItemByID(id)
}

// snapServerID resolves a snapshot member's server id, falling back to the
// local id when the snapshot predates the member's sync (should not happen
// for settlements, which only reference established members).
func snapServerID(snap *models.Snapshot, localID string) string {
	if m := snap.MemberByID(localID); m != nil && m.ServerID != "" {
		return m.ServerID
	}
	return localID
}
