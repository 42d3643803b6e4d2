package models

// Expense represents one expense on a bill.
//
// An expense is either flat (one payer, one participant list, split equally)
// or itemized. When IsItemized is true the payer and participant fields at
// the expense level are empty; the breakdown lives entirely in Items.
type Expense struct {
	// ID is the client-generated local identifier (UUID format).
	ID string `json:"id"`

	// ServerID is the server-issued identifier, empty until reconciled.
	ServerID string `json:"serverId,omitempty"`

	// Name describes the expense (e.g. "Dinner", "Taxi").
	Name string `json:"name"`

	// Amount is the pre-fee total of the expense. Ignored for itemized
	// expenses, whose amounts live on the items.
	Amount float64 `json:"amount"`

	// ServiceFeePercent is an additional percentage (tip, service charge)
	// applied on top of the amount when computing shares.
	ServiceFeePercent float64 `json:"serviceFeePercent"`

	// IsItemized reports whether the expense is broken down into items.
	IsItemized bool `json:"isItemized"`

	// PayerID references the member who paid. Empty when itemized.
	PayerID string `json:"payerId,omitempty"`

	// ParticipantIDs references the members splitting the expense equally.
	// Empty when itemized.
	ParticipantIDs []string `json:"participantIds,omitempty"`

	// Items is the itemized breakdown. Each item belongs to exactly this
	// expense.
	Items []ExpenseItem `json:"items,omitempty"`
}

// Clone returns a deep copy of the expense.
func (e Expense) Clone() Expense {
	clone := e
	if e.ParticipantIDs != nil {
		clone.ParticipantIDs = make([]string, len(e.ParticipantIDs))
		copy(clone.ParticipantIDs, e.ParticipantIDs)
	}
	if e.Items != nil {
		clone.Items = make([]ExpenseItem, len(e.Items))
		for i := range e.Items {
			clone.Items[i] = e.Items[i].Clone()
		}
	}
	return clone
}

func cloneExpenses(expenses []Expense) []Expense {
	if expenses == nil {
		return nil
	}
	out := make([]Expense, len(expenses))
	for i := range expenses {
		out[i] = expenses[i].Clone()
	}
	return out
}

// ExpenseItem is a single line of an itemized expense.
type ExpenseItem struct {
	// ID is the client-generated local identifier (UUID format).
	ID string `json:"id"`

	// ServerID is the server-issued identifier, empty until reconciled.
	ServerID string `json:"serverId,omitempty"`

	// Name describes the item.
	Name string `json:"name"`

	// Amount is the pre-fee price of the item.
	Amount float64 `json:"amount"`

	// PayerID references the member who paid for this item.
	PayerID string `json:"payerId"`

	// ParticipantIDs references the members splitting this item equally.
	ParticipantIDs []string `json:"participantIds"`
}

// Clone returns a deep copy of the item.
func (it ExpenseItem) Clone() ExpenseItem {
	clone := it
	if it.ParticipantIDs != nil {
		clone.ParticipantIDs = make([]string, len(it.ParticipantIDs))
		copy(clone.ParticipantIDs, it.ParticipantIDs)
	}
	return clone
}
