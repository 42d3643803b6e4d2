package models

// SyncStatus describes where a client working copy stands relative to the
// authoritative server copy.
type SyncStatus string

const (
	// SyncStatusLocal means the bill has never been synced to the server.
	SyncStatusLocal SyncStatus = "local"
	// SyncStatusModified means there are local edits not yet synced.
	SyncStatusModified SyncStatus = "modified"
	// SyncStatusSyncing means a sync request is currently in flight.
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusSynced means the working copy matches the last server state.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusError means the last sync attempt failed terminally.
	SyncStatusError SyncStatus = "error"
	// SyncStatusConflict means the server rejected edits that need a rebase.
	SyncStatusConflict SyncStatus = "conflict"
)

// Bill represents a shared expense ledger edited by multiple clients and
// reconciled against a single authoritative server copy.
type Bill struct {
	// ID is the unique identifier for the bill (UUID format).
	ID string `json:"id"`

	// Name is the human-readable name for the bill.
	Name string `json:"name"`

	// Version is the monotonically increasing server version counter.
	// Every successful (conflict-free) reconciliation increments it by
	// exactly one.
	Version int64 `json:"version"`

	// Members is the ordered list of people on the bill.
	Members []Member `json:"members"`

	// Expenses is the list of expenses on the bill.
	Expenses []Expense `json:"expenses"`

	// SettledTransfers marks computed transfers that have been manually
	// confirmed paid. Keyed by (from, to), independent of amount.
	SettledTransfers []SettledTransfer `json:"settledTransfers"`

	// SyncStatus is client-side bookkeeping; the server never reads it.
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`

	// CreatedAt is the Unix timestamp when the bill was created.
	CreatedAt int64 `json:"createdAt"`
}

// MemberByID returns the member with the given local ID, or nil.
func (b *Bill) MemberByID(id string) *Member {
	for i := range b.Members {
		if b.Members[i].ID == id {
			return &b.Members[i]
		}
	}
	return nil
}

// MemberByServerID returns the member with the given server ID, or nil.
func (b *Bill) MemberByServerID(id string) *Member {
	for i := range b.Members {
		if b.Members[i].ServerID == id {
			return &b.Members[i]
		}
	}
	return nil
}

// ExpenseByID returns the expense with the given local ID, or nil.
func (b *Bill) ExpenseByID(id string) *Expense {
	for i := range b.Expenses {
		if b.Expenses[i].ID == id {
			return &b.Expenses[i]
		}
	}
	return nil
}

// ExpenseByServerID returns the expense with the given server ID, or nil.
func (b *Bill) ExpenseByServerID(id string) *Expense {
	for i := range b.Expenses {
		if b.Expenses[i].ServerID == id {
			return &b.Expenses[i]
		}
	}
	return nil
}

// ItemByID returns the expense item with the given local ID, together with
// its owning expense, or (nil, nil).
func (b *Bill) ItemByID(id string) (*Expense, *ExpenseItem) {
	for i := range b.Expenses {
		for j := range b.Expenses[i].Items {
			if b.Expenses[i].Items[j].ID == id {
				return &b.Expenses[i], &b.Expenses[i].Items[j]
			}
		}
	}
	return nil, nil
}

// ItemByServerID returns the expense item with the given server ID, together
// with its owning expense, or (nil, nil).
func (b *Bill) ItemByServerID(id string) (*Expense, *ExpenseItem) {
	for i := range b.Expenses {
		for j := range b.Expenses[i].Items {
			if b.Expenses[i].Items[j].ServerID == id {
				return &b.Expenses[i], &b.Expenses[i].Items[j]
			}
		}
	}
	return nil, nil
}

// HasSettledTransfer reports whether the (from, to) pair is marked settled.
func (b *Bill) HasSettledTransfer(fromID, toID string) bool {
	for _, st := range b.SettledTransfers {
		if st.FromMemberID == fromID && st.ToMemberID == toID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the bill. The copy shares no slices or
// nested structures with the original.
func (b *Bill) Clone() *Bill {
	clone := &Bill{
		ID:         b.ID,
		Name:       b.Name,
		Version:    b.Version,
		SyncStatus: b.SyncStatus,
		CreatedAt:  b.CreatedAt,
	}
	clone.Members = cloneMembers(b.Members)
	clone.Expenses = cloneExpenses(b.Expenses)
	clone.SettledTransfers = cloneTransfers(b.SettledTransfers)
	return clone
}

// SettledTransfer marks a computed transfer between two members as manually
// confirmed paid. The mark is keyed by the member pair only; it does not
// record the amount, so a mark can go stale after further edits change the
// computed transfer.
type SettledTransfer struct {
	FromMemberID string `json:"fromMemberId"`
	ToMemberID   string `json:"toMemberId"`
}

func cloneTransfers(transfers []SettledTransfer) []SettledTransfer {
	if transfers == nil {
		return nil
	}
	out := make([]SettledTransfer, len(transfers))
	copy(out, transfers)
	return out
}
