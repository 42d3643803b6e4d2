package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/mmynk/splitsync/internal/models"
	"github.com/mmynk/splitsync/internal/storage"
	"github.com/mmynk/splitsync/internal/wire"
)

// fakeStore holds a single bill in memory and enforces the optimistic
// version precondition the way the SQLite store does.
type fakeStore struct {
	bill    *models.Bill
	saveErr error
	saves   int
}

func (f *fakeStore) CreateBill(_ context.Context, bill *models.Bill) error {
	f.bill = bill.Clone()
	return nil
}

func (f *fakeStore) LoadBillWithDetails(_ context.Context, billID string) (*models.Bill, error) {
	if f.bill == nil || f.bill.ID != billID {
		return nil, storage.ErrBillNotFound
	}
	return f.bill.Clone(), nil
}

func (f *fakeStore) SaveBill(_ context.Context, bill *models.Bill, expectedVersion int64) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.bill == nil || f.bill.ID != bill.ID {
		return storage.ErrBillNotFound
	}
	if f.bill.Version != expectedVersion {
		return storage.ErrConcurrentUpdate
	}
	f.bill = bill.Clone()
	f.saves++
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeNotifier struct {
	calls []string
}

func (f *fakeNotifier) NotifyBillUpdated(_ context.Context, billID string, _ int64, _ string) {
	f.calls = append(f.calls, billID)
}

// serverBill builds the authoritative copy: every entity has ID == ServerID.
func serverBill() *models.Bill {
	return &models.Bill{
		ID:      "bill-1",
		Name:    "Trip",
		Version: 3,
		Members: []models.Member{
			{ID: "srv-m1", ServerID: "srv-m1", Name: "Alice"},
			{ID: "srv-m2", ServerID: "srv-m2", Name: "Bob"},
		},
		Expenses: []models.Expense{
			{ID: "srv-e1", ServerID: "srv-e1", Name: "Dinner", Amount: 60.0, PayerID: "srv-m1", ParticipantIDs: []string{"srv-m1", "srv-m2"}},
		},
	}
}

func newTestEngine(bill *models.Bill) (*Engine, *fakeStore, *fakeNotifier) {
	store := &fakeStore{bill: bill}
	notifier := &fakeNotifier{}
	return NewEngine(store, notifier), store, notifier
}

func TestSyncAppliesChanges(t *testing.T) {
	ctx := context.Background()

	t.Run("add with cross-reference in one request", func(t *testing.T) {
		engine, store, notifier := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 3,
			Members: &wire.MemberChanges{
				Add: []wire.MemberAdd{{LocalID: "local-m3", Name: "Carol"}},
			},
			Expenses: &wire.ExpenseChanges{
				Add: []wire.ExpenseAdd{{
					LocalID: "local-e2", Name: "Taxi", Amount: 15.0,
					PayerID:        "local-m3",
					ParticipantIDs: []string{"srv-m1", "local-m3"},
				}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("expected success, got conflicts %+v", resp.Conflicts)
		}
		if resp.NewVersion != 4 {
			t.Errorf("new version = %d, want 4", resp.NewVersion)
		}

		memberID, ok := resp.IDMappings.Members["local-m3"]
		if !ok {
			t.Fatal("expected a member mapping for local-m3")
		}
		expenseID, ok := resp.IDMappings.Expenses["local-e2"]
		if !ok {
			t.Fatal("expected an expense mapping for local-e2")
		}

		saved := store.bill
		if saved.MemberByServerID(memberID) == nil {
			t.Error("added member not persisted")
		}
		exp := saved.ExpenseByServerID(expenseID)
		if exp == nil {
			t.Fatal("added expense not persisted")
		}
		if exp.PayerID != memberID {
			t.Errorf("payer = %s, want minted id %s", exp.PayerID, memberID)
		}
		if exp.ParticipantIDs[1] != memberID {
			t.Errorf("participants = %v, want second entry %s", exp.ParticipantIDs, memberID)
		}
		if len(notifier.calls) != 1 {
			t.Errorf("notifier called %d times, want 1", len(notifier.calls))
		}
	})

	t.Run("update at current base version applies", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 3,
			Members: &wire.MemberChanges{
				Update: []wire.MemberUpdate{{ID: "srv-m2", Name: "Robert"}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("expected success, got %+v", resp.Conflicts)
		}
		if got := store.bill.MemberByServerID("srv-m2").Name; got != "Robert" {
			t.Errorf("member name = %s, want Robert", got)
		}
	})

	t.Run("flipping an expense to itemized clears payer and participants", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 3,
			Expenses: &wire.ExpenseChanges{
				Update: []wire.ExpenseUpdate{{
					ID: "srv-e1", Name: "Dinner", Amount: 60.0, IsItemized: true,
				}},
			},
			ExpenseItems: &wire.ExpenseItemChanges{
				Add: []wire.ExpenseItemAdd{{
					LocalID: "local-i1", ExpenseID: "srv-e1", Name: "Pizza", Amount: 60.0,
					PayerID: "srv-m1", ParticipantIDs: []string{"srv-m1", "srv-m2"},
				}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("expected success, got %+v", resp.Conflicts)
		}
		exp := store.bill.ExpenseByServerID("srv-e1")
		if !exp.IsItemized {
			t.Fatal("expense should be itemized")
		}
		if exp.PayerID != "" || exp.ParticipantIDs != nil {
			t.Errorf("itemized expense retains payer=%q participants=%v, want both empty", exp.PayerID, exp.ParticipantIDs)
		}
		if len(exp.Items) != 1 {
			t.Errorf("items = %d, want 1", len(exp.Items))
		}
	})

	t.Run("delete at current base version applies and cascades", func(t *testing.T) {
		bill := serverBill()
		bill.SettledTransfers = []models.SettledTransfer{
			{FromMemberID: "srv-m2", ToMemberID: "srv-m1"},
		}
		engine, store, _ := newTestEngine(bill)
		req := &wire.SyncRequest{
			BaseVersion: 3,
			Members: &wire.MemberChanges{
				Delete: []string{"srv-m2"},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("expected success, got %+v", resp.Conflicts)
		}
		if store.bill.MemberByServerID("srv-m2") != nil {
			t.Error("member should be deleted")
		}
		if len(store.bill.SettledTransfers) != 0 {
			t.Errorf("settled transfers should cascade, got %+v", store.bill.SettledTransfers)
		}
	})

	t.Run("delete of missing entity is a no-op", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 3,
			Expenses: &wire.ExpenseChanges{
				Delete: []string{"srv-gone"},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("expected success, got %+v", resp.Conflicts)
		}
		if resp.NewVersion != 4 {
			t.Errorf("new version = %d, want 4", resp.NewVersion)
		}
		if len(store.bill.Expenses) != 1 {
			t.Errorf("expenses = %d, want 1", len(store.bill.Expenses))
		}
	})
}

func TestSyncStaleBaseVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("add applies even when stale", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 1,
			Members: &wire.MemberChanges{
				Add: []wire.MemberAdd{{LocalID: "local-m3", Name: "Carol"}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("adds must be conflict-free, got %+v", resp.Conflicts)
		}
		if len(store.bill.Members) != 3 {
			t.Errorf("members = %d, want 3", len(store.bill.Members))
		}
	})

	t.Run("stale update on changed field yields server_wins", func(t *testing.T) {
		engine, store, notifier := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 1,
			Members: &wire.MemberChanges{
				Update: []wire.MemberUpdate{{ID: "srv-m1", Name: "Alicia"}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if resp.Success {
			t.Fatal("expected conflict response")
		}
		if resp.NewVersion != 3 {
			t.Errorf("version = %d, want unchanged 3", resp.NewVersion)
		}
		if len(resp.Conflicts) != 1 {
			t.Fatalf("conflicts = %+v, want exactly one", resp.Conflicts)
		}
		c := resp.Conflicts[0]
		if c.Resolution != wire.ResolutionServerWins || c.Field != "name" {
			t.Errorf("conflict = %+v, want server_wins on name", c)
		}
		if c.LocalValue != "Alicia" || c.ServerValue != "Alice" {
			t.Errorf("conflict values = %+v", c)
		}
		if resp.MergedBill == nil || resp.MergedBill.Version != 3 {
			t.Error("expected full current bill for rebasing")
		}
		// Nothing persisted.
		if store.bill.MemberByServerID("srv-m1").Name != "Alice" {
			t.Error("server state must be untouched")
		}
		if store.saves != 0 {
			t.Errorf("saves = %d, want 0", store.saves)
		}
		if len(notifier.calls) != 0 {
			t.Error("notifier must not fire on conflict")
		}
	})

	t.Run("stale update with no actual difference is a silent no-op", func(t *testing.T) {
		engine, _, _ := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 1,
			Members: &wire.MemberChanges{
				Update: []wire.MemberUpdate{{ID: "srv-m1", Name: "Alice"}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("identical value must not conflict, got %+v", resp.Conflicts)
		}
	})

	t.Run("stale delete yields manual_required", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 1,
			Expenses: &wire.ExpenseChanges{
				Delete: []string{"srv-e1"},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if resp.Success {
			t.Fatal("expected conflict response")
		}
		if resp.Conflicts[0].Resolution != wire.ResolutionManualRequired {
			t.Errorf("resolution = %s, want manual_required", resp.Conflicts[0].Resolution)
		}
		if len(store.bill.Expenses) != 1 {
			t.Error("expense must survive a stale delete")
		}
	})

	t.Run("conflict rolls back the entire change-set", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		// A valid add rides along with a conflicting stale update; the add
		// must not be persisted either.
		req := &wire.SyncRequest{
			BaseVersion: 1,
			Members: &wire.MemberChanges{
				Add:    []wire.MemberAdd{{LocalID: "local-m3", Name: "Carol"}},
				Update: []wire.MemberUpdate{{ID: "srv-m1", Name: "Alicia"}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if resp.Success {
			t.Fatal("expected conflict response")
		}
		if len(store.bill.Members) != 2 {
			t.Errorf("members = %d, the add must not persist alongside a conflict", len(store.bill.Members))
		}
	})
}

func TestSyncUpdateOfDeletedEntity(t *testing.T) {
	engine, _, _ := newTestEngine(serverBill())
	req := &wire.SyncRequest{
		BaseVersion: 3,
		Members: &wire.MemberChanges{
			Update: []wire.MemberUpdate{{ID: "srv-gone", Name: "Ghost"}},
		},
	}

	resp, err := engine.Sync(context.Background(), "bill-1", "user-1", req)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if resp.Success {
		t.Fatal("expected conflict response")
	}
	c := resp.Conflicts[0]
	if c.Resolution != wire.ResolutionManualRequired || c.ServerValue != "deleted" {
		t.Errorf("conflict = %+v, want manual_required against deleted", c)
	}
}

func TestSyncMalformedReference(t *testing.T) {
	engine, store, _ := newTestEngine(serverBill())
	req := &wire.SyncRequest{
		BaseVersion: 3,
		Expenses: &wire.ExpenseChanges{
			Add: []wire.ExpenseAdd{
				{LocalID: "local-bad", Name: "Broken", Amount: 10.0, PayerID: "nobody", ParticipantIDs: []string{"srv-m1"}},
				{LocalID: "local-ok", Name: "Fine", Amount: 10.0, PayerID: "srv-m1", ParticipantIDs: []string{"srv-m1"}},
			},
		},
	}

	resp, err := engine.Sync(context.Background(), "bill-1", "user-1", req)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("malformed reference must not fail the batch, got %+v", resp.Conflicts)
	}
	if _, ok := resp.IDMappings.Expenses["local-bad"]; ok {
		t.Error("unresolvable expense must be omitted")
	}
	if _, ok := resp.IDMappings.Expenses["local-ok"]; !ok {
		t.Error("valid sibling expense must still apply")
	}
	if len(store.bill.Expenses) != 2 {
		t.Errorf("expenses = %d, want 2", len(store.bill.Expenses))
	}
}

func TestSyncSettlements(t *testing.T) {
	ctx := context.Background()

	t.Run("mark applies even when stale", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		req := &wire.SyncRequest{
			BaseVersion: 1,
			Settlements: &wire.SettlementChanges{
				Mark: []wire.TransferKey{{FromMemberID: "srv-m2", ToMemberID: "srv-m1"}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !resp.Success {
			t.Fatalf("marks are add-like, got %+v", resp.Conflicts)
		}
		if !store.bill.HasSettledTransfer("srv-m2", "srv-m1") {
			t.Error("mark not persisted")
		}
	})

	t.Run("duplicate mark is idempotent", func(t *testing.T) {
		bill := serverBill()
		bill.SettledTransfers = []models.SettledTransfer{{FromMemberID: "srv-m2", ToMemberID: "srv-m1"}}
		engine, store, _ := newTestEngine(bill)
		req := &wire.SyncRequest{
			BaseVersion: 3,
			Settlements: &wire.SettlementChanges{
				Mark: []wire.TransferKey{{FromMemberID: "srv-m2", ToMemberID: "srv-m1"}},
			},
		}

		if _, err := engine.Sync(ctx, "bill-1", "user-1", req); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if len(store.bill.SettledTransfers) != 1 {
			t.Errorf("settled transfers = %d, want 1", len(store.bill.SettledTransfers))
		}
	})

	t.Run("stale unmark yields manual_required", func(t *testing.T) {
		bill := serverBill()
		bill.SettledTransfers = []models.SettledTransfer{{FromMemberID: "srv-m2", ToMemberID: "srv-m1"}}
		engine, store, _ := newTestEngine(bill)
		req := &wire.SyncRequest{
			BaseVersion: 1,
			Settlements: &wire.SettlementChanges{
				Unmark: []wire.TransferKey{{FromMemberID: "srv-m2", ToMemberID: "srv-m1"}},
			},
		}

		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if resp.Success {
			t.Fatal("expected conflict response")
		}
		if resp.Conflicts[0].EntityType != wire.EntitySettlement {
			t.Errorf("entity type = %s, want settlement", resp.Conflicts[0].EntityType)
		}
		if !store.bill.HasSettledTransfer("srv-m2", "srv-m1") {
			t.Error("mark must survive a stale unmark")
		}
	})
}

func TestSyncVersionMonotonicity(t *testing.T) {
	engine, store, _ := newTestEngine(serverBill())
	ctx := context.Background()

	// Several syncs in a row, each against the current version; the
	// counter must advance by exactly one each time.
	for i := 0; i < 3; i++ {
		req := &wire.SyncRequest{
			BaseVersion: store.bill.Version,
			BillMeta:    &wire.BillMetaChange{Name: "Trip " + string(rune('A'+i))},
		}
		resp, err := engine.Sync(ctx, "bill-1", "user-1", req)
		if err != nil {
			t.Fatalf("Sync %d failed: %v", i, err)
		}
		if !resp.Success {
			t.Fatalf("Sync %d conflicted: %+v", i, resp.Conflicts)
		}
		if want := int64(4 + i); resp.NewVersion != want {
			t.Errorf("Sync %d version = %d, want %d", i, resp.NewVersion, want)
		}
	}
}

func TestSyncWriteRace(t *testing.T) {
	store := &fakeStore{bill: serverBill(), saveErr: storage.ErrConcurrentUpdate}
	engine := NewEngine(store, &fakeNotifier{})

	req := &wire.SyncRequest{
		BaseVersion: 3,
		BillMeta:    &wire.BillMetaChange{Name: "Trip 2024"},
	}

	resp, err := engine.Sync(context.Background(), "bill-1", "user-1", req)
	if err != nil {
		t.Fatalf("write race must be reported in-band, got %v", err)
	}
	if resp.Success {
		t.Fatal("expected unsuccessful response")
	}
	if resp.MergedBill == nil {
		t.Error("expected current bill for rebasing")
	}
	if len(resp.Conflicts) != 0 {
		t.Errorf("a write race carries no entity conflicts, got %+v", resp.Conflicts)
	}
}

func TestSyncBillNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(nil)
	req := &wire.SyncRequest{BaseVersion: 1, BillMeta: &wire.BillMetaChange{Name: "X"}}

	_, err := engine.Sync(context.Background(), "missing", "user-1", req)
	if !errors.Is(err, storage.ErrBillNotFound) {
		t.Fatalf("error = %v, want ErrBillNotFound", err)
	}
}

func TestClaimMember(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: "user-1", DisplayName: "Alice W"}

	t.Run("claim binds account and renames", func(t *testing.T) {
		engine, store, notifier := newTestEngine(serverBill())

		bill, err := engine.ClaimMember(ctx, "bill-1", "srv-m1", user)
		if err != nil {
			t.Fatalf("ClaimMember failed: %v", err)
		}
		m := bill.MemberByServerID("srv-m1")
		if m.Name != "Alice W" || m.OriginalName != "Alice" {
			t.Errorf("member = %+v, want renamed with original preserved", m)
		}
		if m.ClaimedBy != "user-1" || m.ClaimedAt == 0 {
			t.Errorf("claim bookkeeping = %+v", m)
		}
		if bill.Version != 4 {
			t.Errorf("version = %d, want 4", bill.Version)
		}
		if store.bill.MemberByServerID("srv-m1").ClaimedBy != "user-1" {
			t.Error("claim not persisted")
		}
		if len(notifier.calls) != 1 {
			t.Error("claim must notify")
		}
	})

	t.Run("claim is idempotent for the same account", func(t *testing.T) {
		engine, store, _ := newTestEngine(serverBill())
		if _, err := engine.ClaimMember(ctx, "bill-1", "srv-m1", user); err != nil {
			t.Fatalf("first claim failed: %v", err)
		}
		if _, err := engine.ClaimMember(ctx, "bill-1", "srv-m1", user); err != nil {
			t.Fatalf("repeat claim failed: %v", err)
		}
		if store.bill.Version != 4 {
			t.Errorf("version = %d, repeat claim must not bump", store.bill.Version)
		}
	})

	t.Run("member claimed by someone else", func(t *testing.T) {
		engine, _, _ := newTestEngine(serverBill())
		if _, err := engine.ClaimMember(ctx, "bill-1", "srv-m1", user); err != nil {
			t.Fatalf("first claim failed: %v", err)
		}
		other := &models.User{ID: "user-2", DisplayName: "Someone"}
		if _, err := engine.ClaimMember(ctx, "bill-1", "srv-m1", other); !errors.Is(err, ErrMemberClaimed) {
			t.Fatalf("error = %v, want ErrMemberClaimed", err)
		}
	})

	t.Run("account already holds another member", func(t *testing.T) {
		engine, _, _ := newTestEngine(serverBill())
		if _, err := engine.ClaimMember(ctx, "bill-1", "srv-m1", user); err != nil {
			t.Fatalf("first claim failed: %v", err)
		}
		if _, err := engine.ClaimMember(ctx, "bill-1", "srv-m2", user); !errors.Is(err, ErrAccountClaimed) {
			t.Fatalf("error = %v, want ErrAccountClaimed", err)
		}
	})

	t.Run("unknown member", func(t *testing.T) {
		engine, _, _ := newTestEngine(serverBill())
		if _, err := engine.ClaimMember(ctx, "bill-1", "srv-gone", user); !errors.Is(err, ErrMemberNotFound) {
			t.Fatalf("error = %v, want ErrMemberNotFound", err)
		}
	})
}
