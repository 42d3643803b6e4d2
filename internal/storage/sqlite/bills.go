package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitsync/internal/models"
	"github.com/mmynk/splitsync/internal/storage"
)

// CreateBill persists a new bill at version 1 (unless the caller set a
// version) together with any initial entity graph.
func (s *SQLiteStore) CreateBill(ctx context.Context, bill *models.Bill) error {
	if bill.ID == "" {
		bill.ID = uuid.New().String()
	}
	if bill.Version == 0 {
		bill.Version = 1
	}
	if bill.CreatedAt == 0 {
		bill.CreatedAt = time.Now().Unix()
	}
	for i := range bill.Members {
		if bill.Members[i].ID == "" {
			bill.Members[i].ID = uuid.New().String()
		}
		if bill.Members[i].ServerID == "" {
			bill.Members[i].ServerID = bill.Members[i].ID
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO bills (id, name, version, created_at) VALUES (?, ?, ?, ?)",
		bill.ID, bill.Name, bill.Version, bill.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}

	if err := insertBillGraph(ctx, tx, bill); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadBillWithDetails retrieves a bill with its full entity graph.
func (s *SQLiteStore) LoadBillWithDetails(ctx context.Context, billID string) (*models.Bill, error) {
	bill := &models.Bill{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, version, created_at FROM bills WHERE id = ?",
		billID,
	).Scan(&bill.ID, &bill.Name, &bill.Version, &bill.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrBillNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}

	if err := s.loadMembers(ctx, bill); err != nil {
		return nil, err
	}
	if err := s.loadExpenses(ctx, bill); err != nil {
		return nil, err
	}
	if err := s.loadSettledTransfers(ctx, bill); err != nil {
		return nil, err
	}
	return bill, nil
}

// SaveBill replaces the bill's persisted state under an optimistic version
// precondition. The version update only matches when no other writer has
// committed since the caller loaded the bill; zero affected rows means
// either the bill vanished or the write raced.
func (s *SQLiteStore) SaveBill(ctx context.Context, bill *models.Bill, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE bills SET name = ?, version = ? WHERE id = ? AND version = ?",
		bill.Name, bill.Version, bill.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM bills WHERE id = ?", bill.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return storage.ErrBillNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check bill existence: %w", err)
		}
		return storage.ErrConcurrentUpdate
	}

	// Replace the entity graph wholesale; expense children cascade.
	for _, table := range []string{"members", "expenses", "settled_transfers"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE bill_id = ?", bill.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := insertBillGraph(ctx, tx, bill); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertBillGraph(ctx context.Context, tx *sql.Tx, bill *models.Bill) error {
	for i, m := range bill.Members {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO members (id, bill_id, name, original_name, claimed_by, claimed_at, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, bill.ID, m.Name, nullString(m.OriginalName), nullString(m.ClaimedBy), nullInt(m.ClaimedAt), i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
	}

	for i, e := range bill.Expenses {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (id, bill_id, name, amount, service_fee_percent, is_itemized, payer_id, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, bill.ID, e.Name, e.Amount, e.ServiceFeePercent, e.IsItemized, nullString(e.PayerID), i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}
		for j, memberID := range e.ParticipantIDs {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO expense_participants (expense_id, member_id, position) VALUES (?, ?, ?)",
				e.ID, memberID, j,
			)
			if err != nil {
				return fmt.Errorf("failed to insert expense participant: %w", err)
			}
		}
		for j, it := range e.Items {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO expense_items (id, expense_id, name, amount, payer_id, position)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				it.ID, e.ID, it.Name, it.Amount, nullString(it.PayerID), j,
			)
			if err != nil {
				return fmt.Errorf("failed to insert expense item: %w", err)
			}
			for k, memberID := range it.ParticipantIDs {
				_, err := tx.ExecContext(ctx,
					"INSERT INTO expense_item_participants (item_id, member_id, position) VALUES (?, ?, ?)",
					it.ID, memberID, k,
				)
				if err != nil {
					return fmt.Errorf("failed to insert item participant: %w", err)
				}
			}
		}
	}

	for _, st := range bill.SettledTransfers {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO settled_transfers (bill_id, from_member_id, to_member_id) VALUES (?, ?, ?)",
			bill.ID, st.FromMemberID, st.ToMemberID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert settled transfer: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, bill *models.Bill) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, original_name, claimed_by, claimed_at
		 FROM members WHERE bill_id = ? ORDER BY position`,
		bill.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.Member
		var originalName, claimedBy sql.NullString
		var claimedAt sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Name, &originalName, &claimedBy, &claimedAt); err != nil {
			return fmt.Errorf("failed to scan member: %w", err)
		}
		m.ServerID = m.ID
		m.OriginalName = originalName.String
		m.ClaimedBy = claimedBy.String
		m.ClaimedAt = claimedAt.Int64
		bill.Members = append(bill.Members, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate members: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadExpenses(ctx context.Context, bill *models.Bill) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, amount, service_fee_percent, is_itemized, payer_id
		 FROM expenses WHERE bill_id = ? ORDER BY position`,
		bill.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get expenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.Expense
		var payerID sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Amount, &e.ServiceFeePercent, &e.IsItemized, &payerID); err != nil {
			return fmt.Errorf("failed to scan expense: %w", err)
		}
		e.ServerID = e.ID
		e.PayerID = payerID.String
		bill.Expenses = append(bill.Expenses, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expenses: %w", err)
	}

	for i := range bill.Expenses {
		e := &bill.Expenses[i]
		e.ParticipantIDs, err = s.loadParticipants(ctx,
			"SELECT member_id FROM expense_participants WHERE expense_id = ? ORDER BY position", e.ID)
		if err != nil {
			return err
		}
		if err := s.loadItems(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) loadItems(ctx context.Context, e *models.Expense) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, amount, payer_id
		 FROM expense_items WHERE expense_id = ? ORDER BY position`,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get expense items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.ExpenseItem
		var payerID sql.NullString
		if err := rows.Scan(&it.ID, &it.Name, &it.Amount, &payerID); err != nil {
			return fmt.Errorf("failed to scan expense item: %w", err)
		}
		it.ServerID = it.ID
		it.PayerID = payerID.String
		e.Items = append(e.Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expense items: %w", err)
	}

	for i := range e.Items {
		e.Items[i].ParticipantIDs, err = s.loadParticipants(ctx,
			"SELECT member_id FROM expense_item_participants WHERE item_id = ? ORDER BY position", e.Items[i].ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, query, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, memberID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) loadSettledTransfers(ctx context.Context, bill *models.Bill) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_member_id, to_member_id
		 FROM settled_transfers WHERE bill_id = ? ORDER BY from_member_id, to_member_id`,
		bill.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get settled transfers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st models.SettledTransfer
		if err := rows.Scan(&st.FromMemberID, &st.ToMemberID); err != nil {
			return fmt.Errorf("failed to scan settled transfer: %w", err)
		}
		bill.SettledTransfers = append(bill.SettledTransfers, st)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate settled transfers: %w", err)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
