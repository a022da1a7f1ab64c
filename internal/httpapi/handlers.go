// Package httpapi serves the reference backend's room read and write routes.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/room"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
)

const (
	maxBodyBytes = 1 << 20
	timeLayout   = time.RFC3339Nano
)

var errUnauthorized = errors.New("unauthorized")

type Handler struct {
	rooms      *room.Service
	serviceKey string
	logger     *zap.Logger
}

func NewHandler(rooms *room.Service, serviceKey string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		rooms:      rooms,
		serviceKey: serviceKey,
		logger:     logger.Named("httpapi"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/rooms/{room}/messages", h.handleMessages)
	mux.HandleFunc("/rooms/{room}/messages/{id}/likes/{user}", h.handleLike)
	mux.HandleFunc("/healthz", h.handleHealth)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.serviceKey == "" {
		return false
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.serviceKey)) == 1
}

type postMessageRequest struct {
	AuthorID   string     `json:"author_id"`
	AuthorName string     `json:"author_name"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	SourceLang string     `json:"source_lang"`
	ReplyTo    message.ID `json:"reply_to"`
	ClientID   message.ID `json:"client_id"`
}

type listMessagesResponse struct {
	Messages []message.Message `json:"messages"`
}

type messageResponse struct {
	Message message.Message `json:"message"`
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	if h.rooms == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("room service not configured"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.listMessages(w, r)
	case http.MethodPost:
		h.postMessage(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
			return
		}
		limit = n
	}

	var (
		msgs []message.Message
		err  error
	)
	if raw := q.Get("before"); raw != "" {
		before, perr := time.Parse(timeLayout, raw)
		if perr != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("before must be an RFC3339 timestamp"))
			return
		}
		msgs, err = h.rooms.ListBefore(r.Context(), roomID, before, limit)
	} else {
		msgs, err = h.rooms.ListRecent(r.Context(), roomID, limit)
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, listMessagesResponse{Messages: msgs})
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	stored, err := h.rooms.PostMessage(r.Context(), message.Draft{
		ClientID:   req.ClientID,
		RoomID:     r.PathValue("room"),
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
		Role:       req.Role,
		Content:    req.Content,
		SourceLang: req.SourceLang,
		ReplyTo:    req.ReplyTo,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: stored})
}

func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	if h.rooms == nil {
		h.writeError(w, http.StatusInternalServerError, errors.New("room service not configured"))
		return
	}

	var liked bool
	switch r.Method {
	case http.MethodPut:
		liked = true
	case http.MethodDelete:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	err := h.rooms.SetLike(r.Context(), r.PathValue("room"), message.ID(r.PathValue("id")), r.PathValue("user"), liked)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, room.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("multiple json objects are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		securelog.Error(h.logger, "httpapi", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
