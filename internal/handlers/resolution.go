package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"listing-aggregator/internal/merge"
	"listing-aggregator/internal/reassign"
	"listing-aggregator/internal/store"

	"github.com/gin-gonic/gin"
)

// ResolutionHandler exposes the manual resolution surface: detach/reattach
// flows and building merges.
type ResolutionHandler struct {
	orchestrator *reassign.Orchestrator
	mergeManager *merge.Manager
}

// NewResolutionHandler creates a new resolution handler
func NewResolutionHandler(orch *reassign.Orchestrator, mergeMgr *merge.Manager) *ResolutionHandler {
	return &ResolutionHandler{
		orchestrator: orch,
		mergeManager: mergeMgr,
	}
}

// respondError maps engine errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, merge.ErrAlreadyReverted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, reassign.ErrInvalidChoice):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func sourceKind(c *gin.Context) reassign.SourceKind {
	if c.Param("kind") == "properties" {
		return reassign.KindProperty
	}
	return reassign.KindListing
}

// RequestDetach starts a reassignment and returns ranked candidates.
// POST /api/resolution/:kind/:id/detach
func (h *ResolutionHandler) RequestDetach(c *gin.Context) {
	offer, err := h.orchestrator.RequestDetach(c.Param("id"), sourceKind(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// Confirm records the operator's choice against the offered candidates.
// POST /api/resolution/:kind/:id/confirm
func (h *ResolutionHandler) Confirm(c *gin.Context) {
	var choice reassign.Choice
	if err := c.ShouldBindJSON(&choice); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.orchestrator.Confirm(c.Param("id"), sourceKind(c), choice); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

// Apply executes the confirmed reassignment.
// POST /api/resolution/:kind/:id/apply?delete_emptied_ancestor=true
func (h *ResolutionHandler) Apply(c *gin.Context) {
	deleteAncestor, _ := strconv.ParseBool(c.DefaultQuery("delete_emptied_ancestor", "false"))

	result, err := h.orchestrator.Apply(c.Param("id"), sourceKind(c), deleteAncestor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Cancel abandons an in-flight reassignment.
// POST /api/resolution/:kind/:id/cancel
func (h *ResolutionHandler) Cancel(c *gin.Context) {
	if !h.orchestrator.Cancel(c.Param("id"), sourceKind(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reassignment in flight"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type mergeRequest struct {
	SourceBuildingID string `json:"source_building_id" binding:"required"`
	TargetBuildingID string `json:"target_building_id" binding:"required"`
	Actor            string `json:"actor"`
}

// MergeBuildings merges one building into another.
// POST /api/buildings/merge
func (h *ResolutionHandler) MergeBuildings(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Actor == "" {
		req.Actor = "admin"
	}

	entry, err := h.mergeManager.MergeBuilding(req.SourceBuildingID, req.TargetBuildingID, req.Actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

type revertRequest struct {
	Actor string `json:"actor"`
}

// RevertMerge undoes a recorded merge.
// POST /api/merges/:id/revert
func (h *ResolutionHandler) RevertMerge(c *gin.Context) {
	var req revertRequest
	_ = c.ShouldBindJSON(&req)
	if req.Actor == "" {
		req.Actor = "admin"
	}

	if err := h.mergeManager.RevertMerge(c.Param("id"), req.Actor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reverted"})
}

// GetMerge returns one merge history entry.
// GET /api/merges/:id
func (h *ResolutionHandler) GetMerge(c *gin.Context) {
	entry, err := h.mergeManager.GetEntry(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListMerges returns recent merge history entries.
// GET /api/merges
func (h *ResolutionHandler) ListMerges(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.mergeManager.RecentEntries(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"merges": entries,
		"count":  len(entries),
	})
}
