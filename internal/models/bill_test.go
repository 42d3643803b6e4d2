package models

import "testing"

func testBill() *Bill {
	return &Bill{
		ID:      "bill-1",
		Name:    "Trip",
		Version: 2,
		Members: []Member{
			{ID: "m1", ServerID: "srv-m1", Name: "Alice"},
			{ID: "m2", Name: "Bob"},
		},
		Expenses: []Expense{
			{
				ID: "e1", ServerID: "srv-e1", Name: "Dinner", Amount: 60.0,
				PayerID: "m1", ParticipantIDs: []string{"m1", "m2"},
			},
			{
				ID: "e2", Name: "Groceries", IsItemized: true,
				Items: []ExpenseItem{
					{ID: "i1", ServerID: "srv-i1", Name: "Milk", Amount: 3.0, PayerID: "m1", ParticipantIDs: []string{"m1"}},
				},
			},
		},
		SettledTransfers: []SettledTransfer{
			{FromMemberID: "m2", ToMemberID: "m1"},
		},
	}
}

func TestBillLookups(t *testing.T) {
	b := testBill()

	if m := b.MemberByID("m2"); m == nil || m.Name != "Bob" {
		t.Errorf("MemberByID(m2) = %+v", m)
	}
	if m := b.MemberByServerID("srv-m1"); m == nil || m.ID != "m1" {
		t.Errorf("MemberByServerID(srv-m1) = %+v", m)
	}
	if b.MemberByServerID("m2") != nil {
		t.Error("an unsynced member must not match by server id")
	}
	if e := b.ExpenseByID("e2"); e == nil || !e.IsItemized {
		t.Errorf("ExpenseByID(e2) = %+v", e)
	}
	owner, item := b.ItemByID("i1")
	if owner == nil || owner.ID != "e2" || item == nil || item.Name != "Milk" {
		t.Errorf("ItemByID(i1) = %+v, %+v", owner, item)
	}
	owner, item = b.ItemByServerID("srv-i1")
	if owner == nil || item == nil || item.ID != "i1" {
		t.Errorf("ItemByServerID(srv-i1) = %+v, %+v", owner, item)
	}
	if !b.HasSettledTransfer("m2", "m1") {
		t.Error("HasSettledTransfer(m2, m1) = false")
	}
	if b.HasSettledTransfer("m1", "m2") {
		t.Error("settled transfers are directional")
	}
}

func TestBillClone(t *testing.T) {
	b := testBill()
	c := b.Clone()

	c.Name = "Other"
	c.Members[0].Name = "Alicia"
	c.Expenses[0].ParticipantIDs[0] = "mX"
	c.Expenses[1].Items[0].Amount = 99.0
	c.SettledTransfers[0].FromMemberID = "mX"

	if b.Name != "Trip" {
		t.Error("clone shares the name")
	}
	if b.Members[0].Name != "Alice" {
		t.Error("clone shares members")
	}
	if b.Expenses[0].ParticipantIDs[0] != "m1" {
		t.Error("clone shares participant slices")
	}
	if b.Expenses[1].Items[0].Amount != 3.0 {
		t.Error("clone shares items")
	}
	if b.SettledTransfers[0].FromMemberID != "m2" {
		t.Error("clone shares settled transfers")
	}
}

func TestSnapshotIndependence(t *testing.T) {
	b := testBill()
	snap := NewSnapshot(b)

	if snap.Version != 2 || snap.Name != "Trip" {
		t.Errorf("snapshot = %+v", snap)
	}

	b.Members[0].Name = "Alicia"
	b.Expenses[0].Amount = 75.0
	b.Expenses[1].Items[0].ParticipantIDs[0] = "mX"
	b.SettledTransfers = nil

	if snap.MemberByID("m1").Name != "Alice" {
		t.Error("snapshot observed a member edit")
	}
	if snap.ExpenseByID("e1").Amount != 60.0 {
		t.Error("snapshot observed an expense edit")
	}
	if snap.ItemByID("i1").ParticipantIDs[0] != "m1" {
		t.Error("snapshot observed an item edit")
	}
	if !snap.HasSettledTransfer("m2", "m1") {
		t.Error("snapshot observed a settlement change")
	}
}
