package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/resolver"
	"github.com/camden-git/supplierresolver/workers"
)

const defaultMaxBatchSize = 1000

type MentionHandler struct {
	Resolver     *resolver.Resolver
	Pool         *workers.IngestPool
	MaxBatchSize int
}

func resolutionStatus(res *resolver.Resolution) int {
	switch res.Decision {
	case resolver.DecisionCreated:
		return http.StatusCreated
	case resolver.DecisionPending:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

// Ingest handles POST /api/mentions.
func (h *MentionHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var m resolver.Mention
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}

	res, err := h.Resolver.Ingest(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, resolutionStatus(res), res)
}

type batchItem struct {
	Index      int                  `json:"index"`
	Resolution *resolver.Resolution `json:"resolution,omitempty"`
	Error      *APIErrorDetail      `json:"error,omitempty"`
}

type batchResponse struct {
	Results   []batchItem    `json:"results"`
	Decisions map[string]int `json:"decisions"`
	Failed    int            `json:"failed"`
}

// IngestBatch handles POST /api/mentions/batch.
func (h *MentionHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mentions []resolver.Mention `json:"mentions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	maxSize := h.MaxBatchSize
	if maxSize <= 0 {
		maxSize = defaultMaxBatchSize
	}
	if len(req.Mentions) == 0 {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Missing required field: mentions")
		return
	}
	if len(req.Mentions) > maxSize {
		WriteAPIError(w, http.StatusRequestEntityTooLarge, "batch_too_large",
			fmt.Sprintf("a batch may hold at most %d mentions", maxSize))
		return
	}

	results := h.Pool.IngestBatch(r.Context(), req.Mentions)
	resp := batchResponse{Results: make([]batchItem, 0, len(results)), Decisions: map[string]int{}}
	for _, res := range results {
		item := batchItem{Index: res.Index, Resolution: res.Resolution}
		if res.Err != nil {
			status, code := classify(res.Err)
			detail := res.Err.Error()
			if status == http.StatusInternalServerError {
				logging.FromContext(r.Context()).Error().Err(res.Err).Int("index", res.Index).Msg("batch mention failed")
				detail = "internal server error"
			}
			item.Error = &APIErrorDetail{Code: code, Status: strconv.Itoa(status), Detail: detail}
			resp.Failed++
		} else {
			resp.Decisions[string(res.Resolution.Decision)]++
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}
