// Package service exposes the reconciliation engine and bill reads over a
// JSON HTTP API.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mmynk/splitsync/internal/calculator"
	"github.com/mmynk/splitsync/internal/middleware"
	"github.com/mmynk/splitsync/internal/models"
	"github.com/mmynk/splitsync/internal/reconcile"
	"github.com/mmynk/splitsync/internal/storage"
	"github.com/mmynk/splitsync/internal/wire"
)

// SyncService handles bill sync, read, claim, and balance requests.
type SyncService struct {
	engine *reconcile.Engine
	store  storage.Store
	users  storage.UserStore
}

// NewSyncService creates the service around the given engine and stores.
func NewSyncService(engine *reconcile.Engine, store storage.Store, users storage.UserStore) *SyncService {
	return &SyncService{engine: engine, store: store, users: users}
}

// Register mounts the service's routes on the mux.
func (s *SyncService) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/bills", s.handleCreateBill)
	mux.HandleFunc("GET /v1/bills/{id}", s.handleGetBill)
	mux.HandleFunc("POST /v1/bills/{id}/sync", s.handleSync)
	mux.HandleFunc("GET /v1/bills/{id}/balances", s.handleBalances)
	mux.HandleFunc("POST /v1/bills/{id}/members/{memberId}/claim", s.handleClaim)
}

// handleSync reconciles one change-set against the bill. Conflicts come
// back in-band with a 200; only a missing bill is an HTTP-level failure.
func (s *SyncService) handleSync(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	billID := r.PathValue("id")

	var req wire.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid sync request: %w", err))
		return
	}
	if req.Empty() {
		writeError(w, http.StatusBadRequest, errors.New("empty delta must not be transmitted"))
		return
	}

	resp, err := s.engine.Sync(r.Context(), billID, userID, &req)
	if err != nil {
		if errors.Is(err, storage.ErrBillNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		slog.Error("Sync failed", "bill_id", billID, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("sync failed"))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *SyncService) handleGetBill(w http.ResponseWriter, r *http.Request) {
	billID := r.PathValue("id")
	bill, err := s.store.LoadBillWithDetails(r.Context(), billID)
	if err != nil {
		if errors.Is(err, storage.ErrBillNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		slog.Error("GetBill failed", "bill_id", billID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load bill"))
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

type createBillRequest struct {
	Name string `json:"name"`
}

func (s *SyncService) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name required"))
		return
	}

	bill := &models.Bill{Name: req.Name}
	if err := s.store.CreateBill(r.Context(), bill); err != nil {
		slog.Error("CreateBill failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to create bill"))
		return
	}
	writeJSON(w, http.StatusCreated, bill)
}

type balancesResponse struct {
	Balances  []calculator.MemberBalance `json:"balances"`
	Transfers []calculator.Transfer      `json:"transfers"`
}

func (s *SyncService) handleBalances(w http.ResponseWriter, r *http.Request) {
	billID := r.PathValue("id")
	bill, err := s.store.LoadBillWithDetails(r.Context(), billID)
	if err != nil {
		if errors.Is(err, storage.ErrBillNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		slog.Error("Balances failed", "bill_id", billID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load bill"))
		return
	}

	balances, transfers := calculator.SettleBill(bill)
	writeJSON(w, http.StatusOK, balancesResponse{Balances: balances, Transfers: transfers})
}

func (s *SyncService) handleClaim(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	billID := r.PathValue("id")
	memberID := r.PathValue("memberId")

	user, err := s.users.GetUserByID(r.Context(), userID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, errors.New("unknown account"))
		return
	}

	bill, err := s.engine.ClaimMember(r.Context(), billID, memberID, user)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, bill)
	case errors.Is(err, storage.ErrBillNotFound), errors.Is(err, reconcile.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, reconcile.ErrMemberClaimed), errors.Is(err, reconcile.ErrAccountClaimed):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrConcurrentUpdate):
		writeError(w, http.StatusConflict, err)
	default:
		slog.Error("Claim failed", "bill_id", billID, "member_id", memberID, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("claim failed"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
