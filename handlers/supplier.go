package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/camden-git/supplierresolver/models"
	"github.com/camden-git/supplierresolver/reconcile"
	"github.com/camden-git/supplierresolver/repository"
)

type SupplierHandler struct {
	Suppliers  repository.SupplierRepositoryInterface
	Aliases    repository.AliasRepositoryInterface
	Records    repository.LinkedRecordRepositoryInterface
	Reconciler *reconcile.Reconciler
}

// SupplierResponse is a live supplier plus how the requested id resolved.
type SupplierResponse struct {
	models.Supplier
	RequestedID uint                   `json:"requested_id"`
	ResolvedID  uint                   `json:"resolved_id"`
	Merges      []models.SupplierMerge `json:"merges"`
}

func (h *SupplierHandler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.Suppliers.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if suppliers == nil {
		suppliers = []models.Supplier{}
	}
	writeJSON(w, http.StatusOK, suppliers)
}

func (h *SupplierHandler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "supplier_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid supplier ID format")
		return
	}
	supplier, err := h.Suppliers.GetLive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	merges, err := h.Suppliers.ListMerges(r.Context(), supplier.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if merges == nil {
		merges = []models.SupplierMerge{}
	}
	writeJSON(w, http.StatusOK, SupplierResponse{Supplier: *supplier, RequestedID: id, ResolvedID: supplier.ID, Merges: merges})
}

// Resolve handles GET /api/suppliers/{supplier_id}/resolve.
func (h *SupplierHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "supplier_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid supplier ID format")
		return
	}
	live, err := h.Suppliers.ResolveLive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint{"requested_id": id, "resolved_id": live})
}

func (h *SupplierHandler) ListAliases(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "supplier_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid supplier ID format")
		return
	}
	aliases, err := h.Aliases.ListBySupplier(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if aliases == nil {
		aliases = []models.Alias{}
	}
	writeJSON(w, http.StatusOK, aliases)
}

func (h *SupplierHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "supplier_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid supplier ID format")
		return
	}
	records, err := h.Records.ListBySupplier(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.LinkedRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// UpdateSupplier handles PUT /api/suppliers/{supplier_id}: display-name correction.
func (h *SupplierHandler) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "supplier_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid supplier ID format")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Missing required field: name")
		return
	}
	supplier, err := h.Suppliers.Rename(r.Context(), id, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, supplier)
}

// MergeSupplier handles POST /api/suppliers/{supplier_id}/merge with body
// {"into": n, "reason": "..."}.
func (h *SupplierHandler) MergeSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "supplier_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid supplier ID format")
		return
	}
	var req struct {
		Into   uint   `json:"into"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	if req.Into == 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Missing required field: into")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual merge"
	}

	audit, err := h.Reconciler.Merge(r.Context(), id, req.Into, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	live, err := h.Suppliers.GetLive(r.Context(), req.Into)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"merge": audit, "supplier": live})
}

// ReassignAlias handles PUT /api/aliases/{alias_id}/supplier with body {"supplier_id": n}.
func (h *SupplierHandler) ReassignAlias(w http.ResponseWriter, r *http.Request) {
	aliasID, ok := uintParam(r, "alias_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Invalid alias ID format")
		return
	}
	var req struct {
		SupplierID uint `json:"supplier_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	if req.SupplierID == 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Missing required field: supplier_id")
		return
	}
	alias, err := h.Aliases.Reassign(r.Context(), aliasID, req.SupplierID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alias)
}

// RunReconcile handles POST /api/reconcile.
func (h *SupplierHandler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reconciler.RunPass(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
