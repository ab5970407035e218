// Package webhook receives Strava push subscription callbacks.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"peaklogger/internal/logging"
	"peaklogger/internal/metrics"
	"peaklogger/internal/storage"
)

const (
	received     = "EVENT_RECEIVED"
	maxBodyBytes = 1 << 20
)

type Event struct {
	ObjectType     string         `json:"object_type"`
	ObjectID       int64          `json:"object_id"`
	AspectType     string         `json:"aspect_type"`
	OwnerID        int64          `json:"owner_id"`
	SubscriptionID int64          `json:"subscription_id"`
	EventTime      int64          `json:"event_time"`
	Updates        map[string]any `json:"updates"`
}

// Handler acknowledges every well-formed event, queues activity creates
// and updates of known athletes for analysis, and forgets deleted activities.
type Handler struct {
	Store         storage.Store
	VerifyToken   string
	SigningSecret string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.Ctx(ctx)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if h.SigningSecret != "" {
		if !validSignature(payload, r.Header.Get("X-Strava-Signature"), h.SigningSecret) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	metrics.WebhookEvents.WithLabelValues(event.ObjectType, event.AspectType).Inc()

	if event.ObjectType != "activity" {
		log.Debug().Str("object_type", event.ObjectType).Msg("not an activity, no work to do")
		acknowledge(w)
		return
	}
	if event.ObjectID == 0 || event.OwnerID == 0 {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	if _, err := h.Store.GetUserByStravaID(ctx, event.OwnerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Info().Int64("athlete_id", event.OwnerID).Msg("webhook for unknown athlete, no work to do")
			acknowledge(w)
			return
		}
		log.Error().Err(err).Msg("webhook user lookup failed")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	log.Info().
		Int64("athlete_id", event.OwnerID).
		Str("aspect_type", event.AspectType).
		Int64("activity_id", event.ObjectID).
		Msg("strava webhook")

	if err := h.recordEvent(ctx, event, string(payload)); err != nil {
		log.Error().Err(err).Msg("failed to record webhook event")
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}
	acknowledge(w)
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, received)
}

func (h *Handler) recordEvent(ctx context.Context, event Event, payload string) error {
	_, err := h.Store.InsertWebhookEvent(ctx, storage.WebhookEvent{
		DeliveryID: uuid.NewString(),
		ObjectID:   event.ObjectID,
		ObjectType: event.ObjectType,
		AspectType: event.AspectType,
		OwnerID:    event.OwnerID,
		RawPayload: payload,
	})
	if err != nil {
		return err
	}

	switch event.AspectType {
	case "create", "update":
		return h.Store.EnqueueActivity(ctx, event.OwnerID, event.ObjectID)
	case "delete":
		err := h.Store.DeleteActivity(ctx, event.OwnerID, event.ObjectID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// handleVerification answers Strava's subscription validation request.
func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	if mode == "" || token == "" {
		http.NotFound(w, r)
		return
	}
	if mode != "subscribe" || token != h.VerifyToken {
		http.Error(w, "invalid verify token", http.StatusForbidden)
		return
	}

	logging.Ctx(r.Context()).Info().Msg("webhook subscription verified")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

func validSignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)
	received, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, received)
}
