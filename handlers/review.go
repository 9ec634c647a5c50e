package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/camden-git/supplierresolver/models"
	"github.com/camden-git/supplierresolver/realtime"
	"github.com/camden-git/supplierresolver/repository"
	"github.com/camden-git/supplierresolver/resolver"
)

type ReviewHandler struct {
	Resolver  *resolver.Resolver
	Aliases   repository.AliasRepositoryInterface
	Suppliers repository.SupplierRepositoryInterface
	Hub       *realtime.Hub
}

// PendingItem is a pending alias together with its suggested supplier.
type PendingItem struct {
	Alias     models.Alias     `json:"alias"`
	Candidate *models.Supplier `json:"candidate,omitempty"`
	Score     float64          `json:"score"`
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// ListPending handles GET /api/review/pending.
func (h *ReviewHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	aliases, err := h.Aliases.ListPending(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]PendingItem, 0, len(aliases))
	for _, a := range aliases {
		item := PendingItem{Alias: a, Score: a.Confidence}
		if a.CandidateSupplierID != nil {
			candidate, err := h.Suppliers.GetLive(r.Context(), *a.CandidateSupplierID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			candidate.Aliases = nil
			item.Candidate = candidate
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// Accept handles POST /api/review/{alias_id}/accept. The body is optional;
// {"supplier_id": n} overrides the suggested candidate.
func (h *ReviewHandler) Accept(w http.ResponseWriter, r *http.Request) {
	aliasID, ok := uintParam(r, "alias_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid alias ID format")
		return
	}
	var req struct {
		SupplierID uint `json:"supplier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}

	res, err := h.Resolver.AcceptPending(r.Context(), aliasID, req.SupplierID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reject handles POST /api/review/{alias_id}/reject.
func (h *ReviewHandler) Reject(w http.ResponseWriter, r *http.Request) {
	aliasID, ok := uintParam(r, "alias_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid alias ID format")
		return
	}
	res, err := h.Resolver.RejectPending(r.Context(), aliasID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Events handles GET /api/review/events (websocket).
func (h *ReviewHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		WriteAPIError(w, http.StatusServiceUnavailable, "events_disabled", "event stream is not enabled")
		return
	}
	h.Hub.ServeWS(w, r)
}
