// Package wire defines the JSON request/response shapes exchanged between a
// client's sync queue and the server's reconciliation engine.
package wire

import "github.com/mmynk/splitsync/internal/models"

// Entity type names used in conflicts and identifier mappings.
const (
	EntityBill        = "bill"
	EntityMember      = "member"
	EntityExpense     = "expense"
	EntityExpenseItem = "expenseItem"
	EntitySettlement  = "settlement"
)

// Conflict resolutions.
const (
	// ResolutionServerWins means the server's current value was retained
	// and the client's attempted change discarded.
	ResolutionServerWins = "server_wins"
	// ResolutionManualRequired means neither side was applied; a human
	// must choose.
	ResolutionManualRequired = "manual_required"
)

// SyncRequest is one change-set produced by the delta factory: the
// difference between a client's working bill and its last-synced snapshot,
// expressed against a base version.
type SyncRequest struct {
	// BaseVersion is the bill version the client last synced against.
	BaseVersion int64 `json:"baseVersion"`

	Members      *MemberChanges      `json:"members,omitempty"`
	Expenses     *ExpenseChanges     `json:"expenses,omitempty"`
	ExpenseItems *ExpenseItemChanges `json:"expenseItems,omitempty"`
	Settlements  *SettlementChanges  `json:"settlements,omitempty"`
	BillMeta     *BillMetaChange     `json:"billMeta,omitempty"`
}

// Empty reports whether the request carries no changes at all. An empty
// delta must not be transmitted.
func (r *SyncRequest) Empty() bool {
	return r.Members == nil && r.Expenses == nil && r.ExpenseItems == nil &&
		r.Settlements == nil && r.BillMeta == nil
}

// MemberChanges is the {add, update, delete} set for members.
type MemberChanges struct {
	Add    []MemberAdd    `json:"add,omitempty"`
	Update []MemberUpdate `json:"update,omitempty"`
	Delete []string       `json:"delete,omitempty"`
}

// MemberAdd creates a member. LocalID is echoed back in the identifier
// mappings so the client can upgrade its working copy.
type MemberAdd struct {
	LocalID string `json:"localId"`
	Name    string `json:"name"`
}

// MemberUpdate updates a member addressed by its server identifier.
type MemberUpdate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ExpenseChanges is the {add, update, delete} set for expenses.
type ExpenseChanges struct {
	Add    []ExpenseAdd    `json:"add,omitempty"`
	Update []ExpenseUpdate `json:"update,omitempty"`
	Delete []string        `json:"delete,omitempty"`
}

// ExpenseAdd creates an expense. Member references may carry local
// identifiers when they point at members added in the same request; the
// server resolves those through its per-request mapping table.
type ExpenseAdd struct {
	LocalID           string   `json:"localId"`
	Name              string   `json:"name"`
	Amount            float64  `json:"amount"`
	ServiceFeePercent float64  `json:"serviceFeePercent"`
	IsItemized        bool     `json:"isItemized"`
	PayerID           string   `json:"payerId,omitempty"`
	ParticipantIDs    []string `json:"participantIds,omitempty"`
}

// ExpenseUpdate updates an expense addressed by its server identifier.
//
// PayerID and ParticipantIDs are pointers so that "field omitted" (itemized
// expense, breakdown delegated to the items) is distinguishable from "clear
// the field".
type ExpenseUpdate struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Amount            float64   `json:"amount"`
	ServiceFeePercent float64   `json:"serviceFeePercent"`
	IsItemized        bool      `json:"isItemized"`
	PayerID           *string   `json:"payerId,omitempty"`
	ParticipantIDs    *[]string `json:"participantIds,omitempty"`
}

// ExpenseItemChanges is the {add, update, delete} set for expense items.
type ExpenseItemChanges struct {
	Add    []ExpenseItemAdd    `json:"add,omitempty"`
	Update []ExpenseItemUpdate `json:"update,omitempty"`
	Delete []string            `json:"delete,omitempty"`
}

// ExpenseItemAdd creates an item under ExpenseID, which may be a local
// identifier when the owning expense is added in the same request.
type ExpenseItemAdd struct {
	LocalID        string   `json:"localId"`
	ExpenseID      string   `json:"expenseId"`
	Name           string   `json:"name"`
	Amount         float64  `json:"amount"`
	PayerID        string   `json:"payerId"`
	ParticipantIDs []string `json:"participantIds"`
}

// ExpenseItemUpdate updates an item addressed by its server identifier.
type ExpenseItemUpdate struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Amount         float64  `json:"amount"`
	PayerID        string   `json:"payerId"`
	ParticipantIDs []string `json:"participantIds"`
}

// SettlementChanges marks or unmarks settled transfers by member pair.
type SettlementChanges struct {
	Mark   []TransferKey `json:"mark,omitempty"`
	Unmark []TransferKey `json:"unmark,omitempty"`
}

// TransferKey identifies a transfer by its endpoints.
type TransferKey struct {
	FromMemberID string `json:"fromMemberId"`
	ToMemberID   string `json:"toMemberId"`
}

// BillMetaChange updates bill-level metadata.
type BillMetaChange struct {
	Name string `json:"name"`
}

// IDMappings maps local identifiers to the server identifiers issued for
// them by one reconciliation.
type IDMappings struct {
	Members      map[string]string `json:"members,omitempty"`
	Expenses     map[string]string `json:"expenses,omitempty"`
	ExpenseItems map[string]string `json:"expenseItems,omitempty"`
}

// Empty reports whether no identifiers were issued.
func (m *IDMappings) Empty() bool {
	return len(m.Members) == 0 && len(m.Expenses) == 0 && len(m.ExpenseItems) == 0
}

// Conflict reports one requested mutation that could not be safely applied
// because the server's state diverged since the client's baseline. Conflicts
// are an expected business condition, reported in-band and never persisted.
type Conflict struct {
	EntityType  string `json:"entityType"`
	EntityID    string `json:"entityId"`
	Field       string `json:"field,omitempty"`
	LocalValue  string `json:"localValue,omitempty"`
	ServerValue string `json:"serverValue,omitempty"`
	Resolution  string `json:"resolution"`
}

// SyncResponse is the reconciliation outcome. Success false with conflicts
// (or with only a merged bill, after a storage-level write race) is a
// normal, expected outcome; the client rebases on MergedBill.
type SyncResponse struct {
	Success    bool         `json:"success"`
	NewVersion int64        `json:"newVersion"`
	IDMappings *IDMappings  `json:"idMappings,omitempty"`
	Conflicts  []Conflict   `json:"conflicts,omitempty"`
	MergedBill *models.Bill `json:"mergedBill,omitempty"`
}
