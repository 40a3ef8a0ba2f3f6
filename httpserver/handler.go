package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dephy-io/dephy-sensor-node/archive"
	"github.com/dephy-io/dephy-sensor-node/interfaces"
	"github.com/dephy-io/dephy-sensor-node/message"
	"github.com/dephy-io/dephy-sensor-node/metrics"
	"github.com/dephy-io/dephy-sensor-node/protocol"
	"github.com/go-chi/chi/v5"
)

const (
	// maxBodySize is the maximum allowed signed message size (64KiB).
	maxBodySize = 64 * 1024
)

// Archive stores accepted messages.
type Archive interface {
	Save(ctx context.Context, msg *message.SignedMessage, raw *message.RawMessage) (bool, error)
	RecentBySender(ctx context.Context, sender interfaces.Address, limit int) ([]archive.Record, error)
	ByHash(ctx context.Context, hash string) (*archive.Record, error)
}

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// MessagesResponse lists archived messages of one sender.
type MessagesResponse struct {
	Address  string           `json:"address"`
	Messages []archive.Record `json:"messages"`
}

// Handler processes collector requests.
type Handler struct {
	verifier *protocol.Verifier
	archive  Archive
	limiter  *SenderLimiter
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewHandler creates a handler.
//
// Parameters:
//   - store: Archive for accepted messages; nil runs verify-only
//   - limiter: Per-sender rate limiter; nil disables limiting
//   - log: Structured logger for operational insights
func NewHandler(store Archive, limiter *SenderLimiter, log *slog.Logger) *Handler {
	return &Handler{
		verifier: protocol.NewVerifier(log),
		archive:  store,
		limiter:  limiter,
		log:      log,
	}
}

// UseMetrics makes the handler count verification results on m.
func (h *Handler) UseMetrics(m *metrics.Metrics) {
	h.metrics = m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, class string) {
	writeJSON(w, status, ErrorResponse{OK: false, Error: class})
}

// HandleSignedMessage verifies and archives one signed message.
//
// URL format: POST /dephy/signed_message
// Request body: encoded SignedMessage
// Response: {"ok":true} on acceptance, including duplicates
func (h *Handler) HandleSignedMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable_body")
		return
	}

	// Verify integrity and sender
	msg, raw, err := h.verifier.VerifyBytes(body)
	class := protocol.ErrorClass(err)
	if h.metrics != nil {
		h.metrics.ObserveVerify(class)
	}
	if err != nil {
		h.log.Warn("Rejected message", slog.String("class", class), "err", err)
		writeError(w, http.StatusBadRequest, class)
		return
	}

	sender, _ := interfaces.NewAddressFromBytes(raw.FromAddress)
	if !h.limiter.Allow(sender.String(), time.Now()) {
		h.log.Warn("Sender rate limited", slog.String("from", sender.String()))
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	if h.archive != nil {
		if _, err := h.archive.Save(r.Context(), msg, raw); err != nil {
			h.log.Error("Failed to archive message", slog.String("from", sender.String()), "err", err)
			writeError(w, http.StatusInternalServerError, "archive_failed")
			return
		}
	}

	h.log.Info("Accepted message",
		slog.String("from", sender.String()),
		slog.Uint64("timestamp", raw.Timestamp),
		slog.Int("payload_size", len(raw.Payload)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(interfaces.AckOK))
}

// HandleListMessages lists recent archived messages of a sender.
//
// URL format: GET /api/messages/{address}?limit=50
// The address is 0x-prefixed hex, bare hex, or a did:dephy: identifier.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive_disabled")
		return
	}

	sender, err := interfaces.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address")
		return
	}

	limit := archive.DefaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
	}

	records, err := h.archive.RecentBySender(r.Context(), sender, limit)
	if err != nil {
		h.log.Error("Failed to list messages", slog.String("from", sender.String()), "err", err)
		writeError(w, http.StatusInternalServerError, "archive_failed")
		return
	}
	if records == nil {
		records = []archive.Record{}
	}

	writeJSON(w, http.StatusOK, MessagesResponse{Address: sender.String(), Messages: records})
}

// HandleGetMessage returns one archived message.
//
// URL format: GET /api/message/{hash}
func (h *Handler) HandleGetMessage(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive_disabled")
		return
	}

	// Archived hashes are bare lowercase hex
	hash := strings.TrimPrefix(strings.ToLower(chi.URLParam(r, "hash")), "0x")
	rec, err := h.archive.ByHash(r.Context(), hash)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "archive_failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
