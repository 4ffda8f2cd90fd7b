// internal/handler/tracking_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/service"
)

// PixelGIF is a 1x1 transparent GIF89a.
var PixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// Tracker records one tracking hit. Only validation errors are returned.
type Tracker interface {
	Track(ctx context.Context, req service.TrackRequest) (*model.TrackingEvent, error)
}

// TrackingHandler serves the public tracking endpoint embedded in emails and landing pages
type TrackingHandler struct {
	Tracker Tracker
	Log     *zap.Logger
}

func NewTrackingHandler(tracker Tracker, log *zap.Logger) *TrackingHandler {
	return &TrackingHandler{Tracker: tracker, Log: log}
}

// Routes mounts GET and OPTIONS /track/{campaignId}/{subscriberHash}/{task}.
func (h *TrackingHandler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}))
		r.Get("/track/{campaignId}/{subscriberHash}/{task}", h.TrackHandler)
		r.Options("/track/{campaignId}/{subscriberHash}/{task}", h.PreflightHandler)
	})
}

// TrackHandler records the event and answers with the pixel, whatever happened
// to the write. A malformed task or status is the only 400.
func (h *TrackingHandler) TrackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.TrackRequest{
		CampaignID:     chi.URLParam(r, "campaignId"),
		SubscriberHash: chi.URLParam(r, "subscriberHash"),
		Task:           chi.URLParam(r, "task"),
		Status:         q.Get("status"),
		Metadata:       q.Get("metadata"),
		IP:             realIP(r),
		UserAgent:      r.UserAgent(),
	}

	if _, err := h.Tracker.Track(r.Context(), req); err != nil {
		if errors.Is(err, appErrors.ErrInvalidTaskType) || errors.Is(err, appErrors.ErrInvalidTrackingStatus) {
			h.Log.Info("tracking request rejected",
				zap.String("campaign_id", req.CampaignID),
				zap.String("task", req.Task),
				zap.String("status", req.Status),
				zap.Error(err))
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("tracking failed", zap.String("campaign_id", req.CampaignID), zap.Error(err))
	}

	servePixel(w)
}

// PreflightHandler answers OPTIONS requests that reach the route without CORS
// preflight headers.
func (h *TrackingHandler) PreflightHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(PixelGIF)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
