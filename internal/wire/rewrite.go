package wire

// RewriteIDs substitutes newly issued server identifiers for the local
// identifiers embedded anywhere in the request: add-entry cross references,
// update and delete targets, item parents, and transfer endpoints. Queued
// requests built before a sync completed may reference entities by local ID
// throughout, so the substitution is deep, not just top-level.
func (r *SyncRequest) RewriteIDs(m *IDMappings) {
	if m == nil {
		return
	}
	member := subFn(m.Members)
	expense := subFn(m.Expenses)
	item := subFn(m.ExpenseItems)

	if r.Members != nil {
		for i := range r.Members.Update {
			r.Members.Update[i].ID = member(r.Members.Update[i].ID)
		}
		subAll(r.Members.Delete, member)
	}
	if r.Expenses != nil {
		for i := range r.Expenses.Add {
			a := &r.Expenses.Add[i]
			a.PayerID = member(a.PayerID)
			subAll(a.ParticipantIDs, member)
		}
		for i := range r.Expenses.Update {
			u := &r.Expenses.Update[i]
			u.ID = expense(u.ID)
			if u.PayerID != nil {
				*u.PayerID = member(*u.PayerID)
			}
			if u.ParticipantIDs != nil {
				subAll(*u.ParticipantIDs, member)
			}
		}
		subAll(r.Expenses.Delete, expense)
	}
	if r.ExpenseItems != nil {
		for i := range r.ExpenseItems.Add {
			a := &r.ExpenseItems.Add[i]
			a.ExpenseID = expense(a.ExpenseID)
			a.PayerID = member(a.PayerID)
			subAll(a.ParticipantIDs, member)
		}
		for i := range r.ExpenseItems.Update {
			u := &r.ExpenseItems.Update[i]
			u.ID = item(u.ID)
			u.PayerID = member(u.PayerID)
			subAll(u.ParticipantIDs, member)
		}
		subAll(r.ExpenseItems.Delete, item)
	}
	if r.Settlements != nil {
		for i := range r.Settlements.Mark {
			r.Settlements.Mark[i].FromMemberID = member(r.Settlements.Mark[i].FromMemberID)
			r.Settlements.Mark[i].ToMemberID = member(r.Settlements.Mark[i].ToMemberID)
		}
		for i := range r.Settlements.Unmark {
			r.Settlements.Unmark[i].FromMemberID = member(r.Settlements.Unmark[i].FromMemberID)
			r.Settlements.Unmark[i].ToMemberID = member(r.Settlements.Unmark[i].ToMemberID)
		}
	}
}

func subFn(mapping map[string]string) func(string) string {
	return func(id string) string {
		if serverID, ok := mapping[id]; ok {
			return serverID
		}
		return id
	}
}

func subAll(ids []string, sub func(string) string) {
	for i := range ids {
		ids[i] = sub(ids[i])
	}
}
