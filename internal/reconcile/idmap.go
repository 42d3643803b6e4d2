package reconcile

import "github.com/mmynk/splitsync/internal/wire"

// idMap is the per-request identifier mapping table. It is built
// incrementally in the fixed order members, expenses, expense items, so
// later kinds can reference identifiers newly minted for earlier kinds in
// the same request. It lives for exactly one reconciliation.
type idMap struct {
	members  map[string]string
	expenses map[string]string
	items    map[string]string
}

func newIDMap() *idMap {
	return &idMap{
		members:  make(map[string]string),
		expenses: make(map[string]string),
		items:    make(map[string]string),
	}
}

// mappings converts the table to its response form.
func (m *idMap) mappings() *wire.IDMappings {
	out := &wire.IDMappings{}
	if len(m.members) > 0 {
		out.Members = m.members
	}
	if len(m.expenses) > 0 {
		out.Expenses = m.expenses
	}
	if len(m.items) > 0 {
		out.ExpenseItems = m.items
	}
	return out
}
