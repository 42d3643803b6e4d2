// Package reconcile applies incoming change-sets against the authoritative
// bill copy, classifying conflicts and issuing server identifiers.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitsync/internal/metrics"
	"github.com/mmynk/splitsync/internal/models"
	"github.com/mmynk/splitsync/internal/storage"
	"github.com/mmynk/splitsync/internal/wire"
)

// Notifier is told about every successfully persisted version so other
// clients of the bill can be nudged to sync. Delivery is fire-and-forget;
// a notifier must never fail the reconciliation.
type Notifier interface {
	NotifyBillUpdated(ctx context.Context, billID string, newVersion int64, actingUserID string)
}

// LogNotifier is the default Notifier; it only logs.
type LogNotifier struct{}

// NotifyBillUpdated logs the new version.
func (LogNotifier) NotifyBillUpdated(_ context.Context, billID string, newVersion int64, actingUserID string) {
	slog.Info("Bill updated", "bill_id", billID, "version", newVersion, "user_id", actingUserID)
}

// Engine reconciles change-sets against bills. Each Sync call operates on
// exactly one bill; writes race through the store's optimistic version
// precondition rather than locking.
type Engine struct {
	store    storage.Store
	notifier Notifier
}

// NewEngine creates a reconciliation engine. A nil notifier falls back to
// LogNotifier.
func NewEngine(store storage.Store, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Engine{store: store, notifier: notifier}
}

// Sync applies one change-set against the bill.
//
// Adds are applied unconditionally (they are commutative with concurrent
// edits), with cross-references resolved through the per-request identifier
// map; an unresolvable reference silently omits just that entity. Updates
// and deletes are conflict-checked: a vanished target or a stale base
// version records a conflict instead of applying. Any conflict means
// nothing is persisted and the caller receives the full current bill to
// rebase on. A conflict-free change-set is persisted with the version
// incremented by exactly one.
//
// Returns storage.ErrBillNotFound if the bill does not exist; that is the
// only terminal condition, everything else is reported in-band.
func (e *Engine) Sync(ctx context.Context, billID, actingUserID string, req *wire.SyncRequest) (*wire.SyncResponse, error) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	pristine, err := e.store.LoadBillWithDetails(ctx, billID)
	if err != nil {
		if errors.Is(err, storage.ErrBillNotFound) {
			metrics.ReconcileTotal.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}

	s := &applyState{
		bill:  pristine.Clone(),
		stale: req.BaseVersion != pristine.Version,
		ids:   newIDMap(),
	}

	// Adds first, in mapping-table order, so updates and settlements may
	// reference identifiers minted in this request.
	s.applyMemberAdds(req.Members)
	s.applyExpenseAdds(req.Expenses)
	s.applyItemAdds(req.ExpenseItems)

	s.applyMemberUpdates(req.Members)
	s.applyExpenseUpdates(req.Expenses)
	s.applyItemUpdates(req.ExpenseItems)

	s.applyMemberDeletes(req.Members)
	s.applyExpenseDeletes(req.Expenses)
	s.applyItemDeletes(req.ExpenseItems)

	s.applySettlements(req.Settlements)
	s.applyBillMeta(billID, req.BillMeta)

	if len(s.conflicts) > 0 {
		// Discard the working copy; nothing persists, no version bump.
		metrics.ReconcileTotal.WithLabelValues("conflict").Inc()
		slog.Info("Sync rejected with conflicts",
			"bill_id", billID,
			"user_id", actingUserID,
			"base_version", req.BaseVersion,
			"version", pristine.Version,
			"conflicts", len(s.conflicts),
		)
		return &wire.SyncResponse{
			Success:    false,
			NewVersion: pristine.Version,
			Conflicts:  s.conflicts,
			MergedBill: pristine,
		}, nil
	}

	s.bill.Version = pristine.Version + 1
	if err := e.store.SaveBill(ctx, s.bill, pristine.Version); err != nil {
		if errors.Is(err, storage.ErrConcurrentUpdate) {
			// A second writer committed first. Drop our copy, hand the
			// caller the now-current state to rebase on.
			metrics.ReconcileTotal.WithLabelValues("write_race").Inc()
			slog.Warn("Sync lost write race", "bill_id", billID, "user_id", actingUserID)
			reloaded, lerr := e.store.LoadBillWithDetails(ctx, billID)
			if lerr != nil {
				return nil, lerr
			}
			return &wire.SyncResponse{
				Success:    false,
				NewVersion: reloaded.Version,
				MergedBill: reloaded,
			}, nil
		}
		return nil, err
	}

	metrics.ReconcileTotal.WithLabelValues("applied").Inc()
	e.notifier.NotifyBillUpdated(ctx, billID, s.bill.Version, actingUserID)

	resp := &wire.SyncResponse{Success: true, NewVersion: s.bill.Version}
	if m := s.ids.mappings(); !m.Empty() {
		resp.IDMappings = m
	}
	slog.Info("Sync applied",
		"bill_id", billID,
		"user_id", actingUserID,
		"new_version", s.bill.Version,
	)
	return resp, nil
}

// applyState carries one reconciliation's working copy, staleness flag,
// identifier map, and accumulated conflicts.
type applyState struct {
	bill      *models.Bill
	stale     bool
	ids       *idMap
	conflicts []wire.Conflict
}

func (s *applyState) conflict(c wire.Conflict) {
	s.conflicts = append(s.conflicts, c)
	metrics.ConflictTotal.WithLabelValues(c.EntityType).Inc()
}

// resolveMember resolves a member reference against the bill's existing
// server identifiers and the per-request map, in that order. An empty
// reference resolves to itself.
func (s *applyState) resolveMember(ref string) (string, bool) {
	if ref == "" {
		return "", true
	}
	if s.bill.MemberByServerID(ref) != nil {
		return ref, true
	}
	if mapped, ok := s.ids.members[ref]; ok {
		return mapped, true
	}
	return "", false
}

func (s *applyState) resolveMembers(refs []string) ([]string, bool) {
	out := make([]string, len(refs))
	for i, ref := range refs {
		resolved, ok := s.resolveMember(ref)
		if !ok {
			return nil, false
		}
		out[i] = resolved
	}
	return out, true
}

func (s *applyState) resolveExpense(ref string) (string, bool) {
	if s.bill.ExpenseByServerID(ref) != nil {
		return ref, true
	}
	if mapped, ok := s.ids.expenses[ref]; ok {
		return mapped, true
	}
	return "", false
}

func (s *applyState) applyMemberAdds(ch *wire.MemberChanges) {
	if ch == nil {
		return
	}
	for _, add := range ch.Add {
		serverID := uuid.New().String()
		s.ids.members[add.LocalID] = serverID
		s.bill.Members = append(s.bill.Members, models.Member{
			ID:       serverID,
			ServerID: serverID,
			Name:     add.Name,
		})
	}
}

func (s *applyState) applyExpenseAdds(ch *wire.ExpenseChanges) {
	if ch == nil {
		return
	}
	for _, add := range ch.Add {
		exp := models.Expense{
			Name:              add.Name,
			Amount:            add.Amount,
			ServiceFeePercent: add.ServiceFeePercent,
			IsItemized:        add.IsItemized,
		}
		if !add.IsItemized {
			payer, ok := s.resolveMember(add.PayerID)
			if !ok {
				slog.Warn("Skipping expense add with unresolved payer", "local_id", add.LocalID, "payer", add.PayerID)
				continue
			}
			participants, ok := s.resolveMembers(add.ParticipantIDs)
			if !ok {
				slog.Warn("Skipping expense add with unresolved participant", "local_id", add.LocalID)
				continue
			}
			exp.PayerID = payer
			exp.ParticipantIDs = participants
		}
		serverID := uuid.New().String()
		exp.ID = serverID
		exp.ServerID = serverID
		s.ids.expenses[add.LocalID] = serverID
		s.bill.Expenses = append(s.bill.Expenses, exp)
	}
}

func (s *applyState) applyItemAdds(ch *wire.ExpenseItemChanges) {
	if ch == nil {
		return
	}
	for _, add := range ch.Add {
		expenseID, ok := s.resolveExpense(add.ExpenseID)
		if !ok {
			slog.Warn("Skipping item add with unresolved expense", "local_id", add.LocalID, "expense", add.ExpenseID)
			continue
		}
		payer, ok := s.resolveMember(add.PayerID)
		if !ok {
			slog.Warn("Skipping item add with unresolved payer", "local_id", add.LocalID, "payer", add.PayerID)
			continue
		}
		participants, ok := s.resolveMembers(add.ParticipantIDs)
		if !ok {
			slog.Warn("Skipping item add with unresolved participant", "local_id", add.LocalID)
			continue
		}
		exp := s.bill.ExpenseByServerID(expenseID)
		serverID := uuid.New().String()
		s.ids.items[add.LocalID] = serverID
		exp.Items = append(exp.Items, models.ExpenseItem{
			ID:             serverID,
			ServerID:       serverID,
			Name:           add.Name,
			Amount:         add.Amount,
			PayerID:        payer,
			ParticipantIDs: participants,
		})
	}
}

// applyUpdate is the shared conflict-checked update path, parameterized by
// lookup and apply callbacks. A vanished target is a manual conflict
// regardless of staleness (the bill version counter cannot detect deletion
// of one child entity); a stale base version records the first differing
// field as a server_wins conflict and keeps the server's value.
func (s *applyState) applyUpdate(entityType, entityID string, exists bool, firstDiff func() (field, local, server string), apply func()) {
	if !exists {
		s.conflict(wire.Conflict{
			EntityType:  entityType,
			EntityID:    entityID,
			ServerValue: "deleted",
			Resolution:  wire.ResolutionManualRequired,
		})
		return
	}
	if s.stale {
		if field, local, server := firstDiff(); field != "" {
			s.conflict(wire.Conflict{
				EntityType:  entityType,
				EntityID:    entityID,
				Field:       field,
				LocalValue:  local,
				ServerValue: server,
				Resolution:  wire.ResolutionServerWins,
			})
		}
		return
	}
	apply()
}

// applyDelete is the shared conflict-checked delete path. Deleting a
// vanished target is an idempotent no-op; a stale base version records a
// manual conflict and keeps the entity.
func (s *applyState) applyDelete(entityType, entityID string, exists bool, remove func()) {
	if !exists {
		return
	}
	if s.stale {
		s.conflict(wire.Conflict{
			EntityType: entityType,
			EntityID:   entityID,
			Resolution: wire.ResolutionManualRequired,
		})
		return
	}
	remove()
}

func (s *applyState) applyMemberUpdates(ch *wire.MemberChanges) {
	if ch == nil {
		return
	}
	for _, u := range ch.Update {
		m := s.bill.MemberByServerID(u.ID)
		s.applyUpdate(wire.EntityMember, u.ID, m != nil,
			func() (string, string, string) {
				if m.Name != u.Name {
					return "name", u.Name, m.Name
				}
				return "", "", ""
			},
			func() { m.Name = u.Name },
		)
	}
}

func (s *applyState) applyExpenseUpdates(ch *wire.ExpenseChanges) {
	if ch == nil {
		return
	}
	for _, u := range ch.Update {
		exp := s.bill.ExpenseByServerID(u.ID)
		s.applyUpdate(wire.EntityExpense, u.ID, exp != nil,
			func() (string, string, string) { return expenseFirstDiff(exp, &u) },
			func() {
				exp.Name = u.Name
				exp.Amount = u.Amount
				exp.ServiceFeePercent = u.ServiceFeePercent
				exp.IsItemized = u.IsItemized
				if u.IsItemized {
					// An itemized expense carries no payer or participants
					// of its own; the breakdown lives on the items.
					exp.PayerID = ""
					exp.ParticipantIDs = nil
					return
				}
				// Omitted payer/participants leave the server fields
				// untouched; omitted is not "clear".
				if u.PayerID != nil {
					exp.PayerID = *u.PayerID
				}
				if u.ParticipantIDs != nil {
					exp.ParticipantIDs = append([]string(nil), (*u.ParticipantIDs)...)
				}
			},
		)
	}
}

func (s *applyState) applyItemUpdates(ch *wire.ExpenseItemChanges) {
	if ch == nil {
		return
	}
	for _, u := range ch.Update {
		_, item := s.bill.ItemByServerID(u.ID)
		s.applyUpdate(wire.EntityExpenseItem, u.ID, item != nil,
			func() (string, string, string) { return itemFirstDiff(item, &u) },
			func() {
				item.Name = u.Name
				item.Amount = u.Amount
				item.PayerID = u.PayerID
				item.ParticipantIDs = append([]string(nil), u.ParticipantIDs...)
			},
		)
	}
}

func (s *applyState) applyMemberDeletes(ch *wire.MemberChanges) {
	if ch == nil {
		return
	}
	for _, id := range ch.Delete {
		m := s.bill.MemberByServerID(id)
		s.applyDelete(wire.EntityMember, id, m != nil, func() {
			s.removeMember(id)
		})
	}
}

// removeMember deletes the member and cascades: every settled transfer with
// the member as either endpoint goes with it, unrelated transfers stay.
func (s *applyState) removeMember(serverID string) {
	members := s.bill.Members[:0]
	for _, m := range s.bill.Members {
		if m.ServerID != serverID {
			members = append(members, m)
		}
	}
	s.bill.Members = members

	transfers := s.bill.SettledTransfers[:0]
	for _, st := range s.bill.SettledTransfers {
		if st.FromMemberID != serverID && st.ToMemberID != serverID {
			transfers = append(transfers, st)
		}
	}
	s.bill.SettledTransfers = transfers
}

func (s *applyState) applyExpenseDeletes(ch *wire.ExpenseChanges) {
	if ch == nil {
		return
	}
	for _, id := range ch.Delete {
		exp := s.bill.ExpenseByServerID(id)
		s.applyDelete(wire.EntityExpense, id, exp != nil, func() {
			expenses := s.bill.Expenses[:0]
			for _, e := range s.bill.Expenses {
				if e.ServerID != id {
					expenses = append(expenses, e)
				}
			}
			s.bill.Expenses = expenses
		})
	}
}

func (s *applyState) applyItemDeletes(ch *wire.ExpenseItemChanges) {
	if ch == nil {
		return
	}
	for _, id := range ch.Delete {
		owner, item := s.bill.ItemByServerID(id)
		s.applyDelete(wire.EntityExpenseItem, id, item != nil, func() {
			items := owner.Items[:0]
			for _, it := range owner.Items {
				if it.ServerID != id {
					items = append(items, it)
				}
			}
			owner.Items = items
		})
	}
}

// applySettlements processes settled-transfer marks and unmarks. Marks are
// add-like and commutative, so they apply regardless of staleness; an
// unresolvable endpoint omits just that mark. Unmarks follow the delete
// rules: absent is a no-op, stale is a manual conflict.
func (s *applyState) applySettlements(ch *wire.SettlementChanges) {
	if ch == nil {
		return
	}
	for _, key := range ch.Mark {
		from, okFrom := s.resolveMember(key.FromMemberID)
		to, okTo := s.resolveMember(key.ToMemberID)
		if !okFrom || !okTo || from == "" || to == "" {
			slog.Warn("Skipping settlement mark with unresolved member", "from", key.FromMemberID, "to", key.ToMemberID)
			continue
		}
		if !s.bill.HasSettledTransfer(from, to) {
			s.bill.SettledTransfers = append(s.bill.SettledTransfers, models.SettledTransfer{
				FromMemberID: from,
				ToMemberID:   to,
			})
		}
	}
	for _, key := range ch.Unmark {
		from, okFrom := s.resolveMember(key.FromMemberID)
		to, okTo := s.resolveMember(key.ToMemberID)
		if !okFrom || !okTo {
			continue
		}
		exists := s.bill.HasSettledTransfer(from, to)
		s.applyDelete(wire.EntitySettlement, from+"->"+to, exists, func() {
			transfers := s.bill.SettledTransfers[:0]
			for _, st := range s.bill.SettledTransfers {
				if st.FromMemberID != from || st.ToMemberID != to {
					transfers = append(transfers, st)
				}
			}
			s.bill.SettledTransfers = transfers
		})
	}
}

func (s *applyState) applyBillMeta(billID string, meta *wire.BillMetaChange) {
	if meta == nil {
		return
	}
	s.applyUpdate(wire.EntityBill, billID, true,
		func() (string, string, string) {
			if s.bill.Name != meta.Name {
				return "name", meta.Name, s.bill.Name
			}
			return "", "", ""
		},
		func() { s.bill.Name = meta.Name },
	)
}

func expenseFirstDiff(exp *models.Expense, u *wire.ExpenseUpdate) (string, string, string) {
	if exp.Name != u.Name {
		return "name", u.Name, exp.Name
	}
	if exp.Amount != u.Amount {
		return "amount", formatFloat(u.Amount), formatFloat(exp.Amount)
	}
	if exp.ServiceFeePercent != u.ServiceFeePercent {
		return "serviceFeePercent", formatFloat(u.ServiceFeePercent), formatFloat(exp.ServiceFeePercent)
	}
	if exp.IsItemized != u.IsItemized {
		return "isItemized", strconv.FormatBool(u.IsItemized), strconv.FormatBool(exp.IsItemized)
	}
	if u.PayerID != nil && exp.PayerID != *u.PayerID {
		return "payerId", *u.PayerID, exp.PayerID
	}
	if u.ParticipantIDs != nil && !equalStrings(exp.ParticipantIDs, *u.ParticipantIDs) {
		return "participantIds", joinIDs(*u.ParticipantIDs), joinIDs(exp.ParticipantIDs)
	}
	return "", "", ""
}

func itemFirstDiff(item *models.ExpenseItem, u *wire.ExpenseItemUpdate) (string, string, string) {
	if item.Name != u.Name {
		return "name", u.Name, item.Name
	}
	if item.Amount != u.Amount {
		return "amount", formatFloat(u.Amount), formatFloat(item.Amount)
	}
	if item.PayerID != u.PayerID {
		return "payerId", u.PayerID, item.PayerID
	}
	if !equalStrings(item.ParticipantIDs, u.ParticipantIDs) {
		return "participantIds", joinIDs(u.ParticipantIDs), joinIDs(item.ParticipantIDs)
	}
	return "", "", ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
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
