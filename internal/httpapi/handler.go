package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicq/queue-service/internal/store"
)

type Handler struct {
	store store.QueueStore
}

func NewHandler(store store.QueueStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/queues", h.handleListClinics)
	mux.HandleFunc("/api/queues/", h.handleQueue)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

type checkInRequest struct {
	RequestID   string `json:"request_id"`
	ClinicID    string `json:"clinic_id"`
	TicketID    string `json:"ticket_id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	DoctorID    string `json:"doctor_id"`
	DoctorName  string `json:"doctor_name"`
}

type checkInResponse struct {
	ClinicID   string `json:"clinic_id"`
	TicketID   string `json:"ticket_id"`
	Sequence   int64  `json:"sequence"`
	Position   int    `json:"position"`
	NowServing int64  `json:"now_serving"`
	Created    bool   `json:"created"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.TicketID = strings.TrimSpace(req.TicketID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Email = strings.TrimSpace(req.Email)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.DoctorName = strings.TrimSpace(req.DoctorName)

	if req.ClinicID == "" || req.TicketID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "clinic_id and ticket_id are required")
		return
	}
	if !isValidID(req.ClinicID) || !isValidID(req.TicketID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "clinic_id and ticket_id must be at most 128 characters without spaces")
		return
	}
	if req.Phone != "" && !isValidPhone(req.Phone) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
		return
	}
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "email is malformed")
		return
	}

	ticket, created, err := h.store.CheckIn(r.Context(), store.CheckInInput{
		ClinicID:    req.ClinicID,
		TicketID:    req.TicketID,
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		Phone:       req.Phone,
		Email:       req.Email,
		DoctorID:    req.DoctorID,
		DoctorName:  req.DoctorName,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, checkInResponse{
		ClinicID:   ticket.ClinicID,
		TicketID:   ticket.TicketID,
		Sequence:   ticket.Sequence,
		Position:   ticket.Position,
		NowServing: ticket.NowServing,
		Created:    created,
	})
}

func (h *Handler) handleListClinics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinics, err := h.store.ListClinics(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if clinics == nil {
		clinics = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"clinics": clinics})
}

// handleQueue dispatches the /api/queues/{clinic} subtree:
//
//	GET  /api/queues/{clinic}                     -> status
//	POST /api/queues/{clinic}/call-next           -> advance queue
//	GET  /api/queues/{clinic}/tickets/{ticket}    -> position snapshot
func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	clinicID := parts[0]
	if clinicID == "" || !isValidID(clinicID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id must be at most 128 characters without spaces")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleStatus(w, r, clinicID)
	case len(parts) == 2 && parts[1] == "call-next":
		h.handleCallNext(w, r, clinicID)
	case len(parts) == 3 && parts[1] == "tickets":
		h.handlePosition(w, r, clinicID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, clinicID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status, err := h.store.GetStatus(r.Context(), clinicID)
	if err != nil {
		httpStatus, code, msg := mapError(err)
		writeError(w, "", httpStatus, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request, clinicID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))

	served, err := h.store.CallNext(r.Context(), clinicID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrQueueEmpty) {
			writeError(w, requestID, http.StatusConflict, "queue_empty", "no tickets waiting")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, served)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request, clinicID, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if ticketID == "" || !isValidID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id must be at most 128 characters without spaces")
		return
	}

	position, err := h.store.GetPosition(r.Context(), clinicID, ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if clinicID == "" || !isValidID(clinicID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_id is required")
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListEvents(r.Context(), clinicID, after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	if events == nil {
		events = []store.QueueEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Clinic and ticket identifiers are opaque strings supplied by the caller;
// only length and whitespace are constrained.
func isValidID(value string) bool {
	if len(value) == 0 || len(value) > 128 {
		return false
	}
	for _, r := range value {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusConflict, "queue_empty", "no tickets waiting"
	default:
		return http.StatusInternalServerError, "internal_error", "operation failed, retry the request"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
