package models

// Snapshot is a frozen deep copy of a bill's state as of the last successful
// sync. It serves purely as a diff baseline: the delta factory compares the
// working bill against it to decide what changed. It is never mutated
// outside a full resync.
type Snapshot struct {
	Name             string            `json:"name"`
	Version          int64             `json:"version"`
	Members          []Member          `json:"members"`
	Expenses         []Expense         `json:"expenses"`
	SettledTransfers []SettledTransfer `json:"settledTransfers"`
}

// NewSnapshot takes a deep, independent copy of the bill. Later mutations of
// the working bill are not observable through the returned snapshot.
func NewSnapshot(b *Bill) *Snapshot {
	return &Snapshot{
		Name:             b.Name,
		Version:          b.Version,
		Members:          cloneMembers(b.Members),
		Expenses:         cloneExpenses(b.Expenses),
		SettledTransfers: cloneTransfers(b.SettledTransfers),
	}
}

// MemberByID returns the snapshot member with the given local ID, or nil.
func (s *Snapshot) MemberByID(id string) *Member {
	for i := range s.Members {
		if s.Members[i].ID == id {
			return &s.Members[i]
		}
	}
	return nil
}

// ExpenseByID returns the snapshot expense with the given local ID, or nil.
func (s *Snapshot) ExpenseByID(id string) *Expense {
	for i := range s.Expenses {
		if s.Expenses[i].ID == id {
			return &s.Expenses[i]
		}
	}
	return nil
}

// ItemByID returns the snapshot expense item with the given local ID, or nil.
func (s *Snapshot) ItemByID(id string) *ExpenseItem {
	for i := range s.Expenses {
		for j := range s.Expenses[i].Items {
			if s.Expenses[i].Items[j].ID == id {
				return &s.Expenses[i].Items[j]
			}
		}
	}
	return nil
}

// HasSettledTransfer reports whether the (from, to) pair was marked settled
// at snapshot time.
func (s *Snapshot) HasSettledTransfer(fromID, toID string) bool {
	for _, st := range s.SettledTransfers {
		if st.FromMemberID == fromID && st.ToMemberID == toID {
			return true
		}
	}
	return false
}
