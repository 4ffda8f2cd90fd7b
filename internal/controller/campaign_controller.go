// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/service"
)

type ExclusionManager interface {
	List(ctx context.Context, workspaceID, campaignID int) ([]model.CampaignExclusion, error)
	Replace(ctx context.Context, workspaceID, campaignID int, excludedIDs []int) ([]int, error)
	Remove(ctx context.Context, workspaceID, campaignID, excludedID int) error
}

type RecipientPreviewer interface {
	Preview(ctx context.Context, workspaceID, campaignID int, t model.Targeting) (*service.RecipientPreview, error)
}

type StatusChanger interface {
	ChangeStatus(ctx context.Context, workspaceID, campaignID int, to model.CampaignStatus) (*service.StatusChange, error)
	Reprocess(ctx context.Context, workspaceID, campaignID int) (*service.StatusChange, error)
}

type ProgressInspector interface {
	Inspect(ctx context.Context, workspaceID, campaignID int) (*service.Progress, error)
}

// CampaignController serves the operator endpoints for a campaign's audience and lifecycle.
type CampaignController struct {
	Exclusions ExclusionManager
	Recipients RecipientPreviewer
	Status     StatusChanger
	Progress   ProgressInspector
	Log        *zap.Logger
}

// Routes mounts the operator routes; callers wrap them with RequireToken and Workspace.
func (c *CampaignController) Routes(r chi.Router) {
	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Get("/exclusions", c.ListExclusions)
		r.Post("/exclusions", c.ReplaceExclusions)
		r.Delete("/exclusions", c.RemoveExclusion)
		r.Post("/recipients", c.PreviewRecipients)
		r.Put("/status", c.UpdateStatus)
		r.Post("/reprocess", c.Reprocess)
		r.Get("/progress", c.GetProgress)
	})
}

func (c *CampaignController) ListExclusions(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	list, err := c.Exclusions.List(r.Context(), WorkspaceID(r.Context()), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id,
		"exclusions":  list,
	})
}

func (c *CampaignController) ReplaceExclusions(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var body struct {
		ExcludedCampaignIDs []int `json:"excluded_campaign_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	ids, err := c.Exclusions.Replace(r.Context(), WorkspaceID(r.Context()), id, body.ExcludedCampaignIDs)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id":           id,
		"excluded_campaign_ids": ids,
	})
}

func (c *CampaignController) RemoveExclusion(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var body struct {
		ExcludedCampaignID int `json:"excluded_campaign_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ExcludedCampaignID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	if err := c.Exclusions.Remove(r.Context(), WorkspaceID(r.Context()), id, body.ExcludedCampaignID); err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) PreviewRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var body model.Targeting
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	preview, err := c.Recipients.Preview(r.Context(), WorkspaceID(r.Context()), id, body)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// UpdateStatus is the operator override, mostly used to move zero-recipient
// queued campaigns back to draft or cancelled.
func (c *CampaignController) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var body struct {
		StatusID model.CampaignStatus `json:"status_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	change, err := c.Status.ChangeStatus(r.Context(), WorkspaceID(r.Context()), id, body.StatusID)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (c *CampaignController) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	change, err := c.Status.Reprocess(r.Context(), WorkspaceID(r.Context()), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, change)
}

func (c *CampaignController) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	p, err := c.Progress.Inspect(r.Context(), WorkspaceID(r.Context()), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// fail maps service errors onto status codes.
func (c *CampaignController) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case appErrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, appErrors.ErrStatusConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, appErrors.ErrInvalidRecipientsType),
		errors.Is(err, appErrors.ErrInvalidCampaignStatus),
		errors.Is(err, appErrors.ErrSelfExclusion),
		errors.Is(err, appErrors.ErrForeignCampaign):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		c.Log.Error("operator request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
