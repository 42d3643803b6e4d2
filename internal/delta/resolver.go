// Package delta diffs a working bill against its last-synced snapshot and
// produces the change-set request transmitted to the server.
package delta

import (
	"fmt"

	"github.com/mmynk/splitsync/internal/models"
	"github.com/mmynk/splitsync/internal/wire"
)

// IntegrityError signals a bookkeeping fault: an entity that should already
// carry a server identifier (it exists in the snapshot, meaning a prior sync
// established it) does not, or a referenced entity is missing from the
// working copy entirely. This is a programmer error, not a user-facing
// validation failure; callers must abort the sync rather than guess an
// identifier and silently desync.
type IntegrityError struct {
	EntityType string
	LocalID    string
	Reason     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("snapshot integrity fault: %s %q %s", e.EntityType, e.LocalID, e.Reason)
}

// resolver maps local identifiers to server identifiers against the working
// bill and snapshot.
type resolver struct {
	bill *models.Bill
	snap *models.Snapshot
}

// strictMember resolves a member reference for use in updates and settlement
// changes. Known member with a server ID: return the server ID. Known member
// without one that has no snapshot counterpart: it is new in this change-set,
// return the local ID so the server's same-request mapping table resolves it.
// Anything else is an integrity fault.
func (r *resolver) strictMember(localID string) (string, error) {
	m := r.bill.MemberByID(localID)
	if m == nil {
		return "", &IntegrityError{EntityType: wire.EntityMember, LocalID: localID, Reason: "not found in working copy"}
	}
	if m.ServerID != "" {
		return m.ServerID, nil
	}
	if r.snap != nil && r.snap.MemberByID(localID) != nil {
		return "", &IntegrityError{EntityType: wire.EntityMember, LocalID: localID, Reason: "in snapshot but has no server id"}
	}
	return localID, nil
}

// strictExpense is strictMember for expenses.
func (r *resolver) strictExpense(localID string) (string, error) {
	e := r.bill.ExpenseByID(localID)
	if e == nil {
		return "", &IntegrityError{EntityType: wire.EntityExpense, LocalID: localID, Reason: "not found in working copy"}
	}
	if e.ServerID != "" {
		return e.ServerID, nil
	}
	if r.snap != nil && r.snap.ExpenseByID(localID) != nil {
		return "", &IntegrityError{EntityType: wire.EntityExpense, LocalID: localID, Reason: "in snapshot but has no server id"}
	}
	return localID, nil
}

// lenientMember resolves a member reference inside an Add entry. Adds may
// freely reference entities that have not been synced yet; the local ID is
// transmitted and the server's mapping table takes over.
func (r *resolver) lenientMember(localID string) string {
	if m := r.bill.MemberByID(localID); m != nil && m.ServerID != "" {
		return m.ServerID
	}
	return localID
}

func (r *resolver) lenientMembers(localIDs []string) []string {
	if localIDs == nil {
		return nil
	}
	out := make([]string, len(localIDs))
	for i, id := range localIDs {
		out[i] = r.lenientMember(id)
	}
	return out
}

// lenientExpense is lenientMember for an item's owning expense.
func (r *resolver) lenientExpense(localID string) string {
	if e := r.bill.ExpenseByID(localID); e != nil && e.ServerID != "" {
		return e.ServerID
	}
	return localID
}

func (r *resolver) strictMembers(localIDs []string) ([]string, error) {
	if localIDs == nil {
		return nil, nil
	}
	out := make([]string, len(localIDs))
	for i, id := range localIDs {
		resolved, err := r.strictMember(id)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}
