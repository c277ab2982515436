package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/scrapline/bulkmatch/internal/core/domain"
	"github.com/scrapline/bulkmatch/internal/core/service"
	"github.com/scrapline/bulkmatch/internal/port"
)

type HTTPHandler struct {
	matching *service.Matching
}

func NewHTTPHandler(matching *service.Matching) *HTTPHandler {
	return &HTTPHandler{matching: matching}
}

func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/requests", h.CreateRequest)
	mux.HandleFunc("GET /api/requests", h.ListVisible)
	mux.HandleFunc("GET /api/requests/my", h.ListOwned)
	mux.HandleFunc("GET /api/requests/accepted", h.ListAccepted)
	mux.HandleFunc("POST /api/requests/{requestId}/accept", h.Accept)
	mux.HandleFunc("POST /api/requests/{requestId}/reject", h.Reject)
	mux.HandleFunc("POST /api/requests/{requestId}/cancel", h.Cancel)
	mux.HandleFunc("PUT /api/candidates/{candidateId}", h.RegisterCandidate)
	return mux
}

type createRequestBody struct {
	OwnerID       string        `json:"owner_id"`
	OwnerRole     string        `json:"owner_role"`
	Location      *domain.Point `json:"location,omitempty"`
	ScrapType     string        `json:"scrap_type"`
	Subcategories []string      `json:"subcategories,omitempty"`
	Quantity      float64       `json:"quantity"`
	AskingPrice   float64       `json:"asking_price,omitempty"`
	RadiusKm      float64       `json:"radius_km,omitempty"`
	Attachments   []string      `json:"attachments,omitempty"`
}

type createRequestResponse struct {
	RequestID     string `json:"request_id"`
	NotifiedCount int    `json:"notified_count"`
}

func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.matching.CreateRequest(r.Context(), service.CreateParams{
		OwnerID:       body.OwnerID,
		OwnerRole:     domain.Role(body.OwnerRole),
		Location:      body.Location,
		ScrapType:     body.ScrapType,
		Subcategories: body.Subcategories,
		Quantity:      body.Quantity,
		AskingPrice:   body.AskingPrice,
		RadiusKm:      body.RadiusKm,
		Attachments:   body.Attachments,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createRequestResponse{
		RequestID:     res.Request.ID,
		NotifiedCount: res.NotifiedCount,
	})
}

type visibleRequestResponse struct {
	Request    *domain.BulkRequest `json:"request"`
	DistanceKm *float64            `json:"distance_km,omitempty"`
}

func (h *HTTPHandler) ListVisible(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	viewerID := q.Get("viewer_id")
	role := domain.Role(q.Get("role"))
	if viewerID == "" || role == "" {
		writeError(w, http.StatusBadRequest, "viewer_id and role are required")
		return
	}

	var location *domain.Point
	if q.Get("lat") != "" && q.Get("lng") != "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
		if errLat != nil || errLng != nil {
			writeError(w, http.StatusBadRequest, "invalid coordinates")
			return
		}
		location = &domain.Point{Lat: lat, Lng: lng}
	}

	visible, err := h.matching.ListForViewer(r.Context(), viewerID, role, location)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]visibleRequestResponse, 0, len(visible))
	for _, v := range visible {
		out = append(out, visibleRequestResponse{Request: v.Request, DistanceKm: v.DistanceKm})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) ListOwned(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	reqs, err := h.matching.ListOwned(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *HTTPHandler) ListAccepted(w http.ResponseWriter, r *http.Request) {
	counterpartyID := r.URL.Query().Get("counterparty_id")
	if counterpartyID == "" {
		writeError(w, http.StatusBadRequest, "counterparty_id is required")
		return
	}

	reqs, err := h.matching.ListAccepted(r.Context(), counterpartyID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

type acceptBody struct {
	CounterpartyID     string   `json:"counterparty_id"`
	CounterpartyRoleID string   `json:"counterparty_role_id"`
	CallerRole         string   `json:"caller_role"`
	Quantity           float64  `json:"quantity"`
	BiddingPrice       float64  `json:"bidding_price,omitempty"`
	Attachments        []string `json:"attachments,omitempty"`
}

type acceptResponse struct {
	RequestID         string               `json:"request_id"`
	CounterpartyID    string               `json:"counterparty_id"`
	CommittedQuantity float64              `json:"committed_quantity"`
	TotalCommitted    float64              `json:"total_committed"`
	Status            domain.RequestStatus `json:"status"`
}

func (h *HTTPHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var body acceptBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.CounterpartyID == "" {
		writeError(w, http.StatusBadRequest, "counterparty_id is required")
		return
	}

	req, err := h.matching.Accept(r.Context(), service.AcceptParams{
		RequestID:          r.PathValue("requestId"),
		CounterpartyID:     body.CounterpartyID,
		CounterpartyRoleID: body.CounterpartyRoleID,
		CallerRole:         domain.Role(body.CallerRole),
		Quantity:           body.Quantity,
		BiddingPrice:       body.BiddingPrice,
		Attachments:        body.Attachments,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, acceptResponse{
		RequestID:         req.ID,
		CounterpartyID:    body.CounterpartyID,
		CommittedQuantity: body.Quantity,
		TotalCommitted:    req.TotalCommitted,
		Status:            req.Status,
	})
}

type rejectBody struct {
	CounterpartyID string `json:"counterparty_id"`
	Reason         string `json:"reason,omitempty"`
}

func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var body rejectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.CounterpartyID == "" {
		writeError(w, http.StatusBadRequest, "counterparty_id is required")
		return
	}

	req, err := h.matching.Reject(r.Context(), r.PathValue("requestId"), body.CounterpartyID, body.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"request_id":      req.ID,
		"counterparty_id": body.CounterpartyID,
	})
}

type cancelBody struct {
	OwnerID string `json:"owner_id"`
}

func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := h.matching.Cancel(r.Context(), r.PathValue("requestId"), body.OwnerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type registerCandidateBody struct {
	ParticipantID string       `json:"participant_id"`
	Role          string       `json:"role"`
	Location      domain.Point `json:"location"`
}

func (h *HTTPHandler) RegisterCandidate(w http.ResponseWriter, r *http.Request) {
	var body registerCandidateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.matching.RegisterCandidate(r.Context(), domain.Candidate{
		ID:            r.PathValue("candidateId"),
		ParticipantID: body.ParticipantID,
		Role:          domain.Role(body.Role),
		Location:      body.Location,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps the engine's outcomes onto distinguishable
// statuses: a recorded commitment, a definitive business outcome, and
// "please retry" must never look alike to the client.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPermissionDenied), errors.Is(err, service.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrOwnerNotFound), errors.Is(err, port.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyCommitted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRequestInactive):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrRetryExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
