package handlers

import (
	"errors"
	"net/http"

	"listing-aggregator/internal/ingest"

	"github.com/gin-gonic/gin"
)

// IntakeHandler receives raw observations from the scrape pipeline.
type IntakeHandler struct {
	worker   *ingest.QueueWorker
	resolver *ingest.Resolver
}

// NewIntakeHandler creates a new intake handler
func NewIntakeHandler(worker *ingest.QueueWorker, resolver *ingest.Resolver) *IntakeHandler {
	return &IntakeHandler{worker: worker, resolver: resolver}
}

// EnqueueObservation accepts one raw observation for background resolution.
// POST /api/intake/observations
func (h *IntakeHandler) EnqueueObservation(c *gin.Context) {
	var obs ingest.RawObservation
	if err := c.ShouldBindJSON(&obs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	id, err := h.worker.Enqueue(&obs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"queue_id": id,
		"status":   "queued",
	})
}

// EnqueueBatch accepts a batch of raw observations.
// POST /api/intake/observations/batch
func (h *IntakeHandler) EnqueueBatch(c *gin.Context) {
	var batch []ingest.RawObservation
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	queued := 0
	rejected := 0
	for i := range batch {
		if _, err := h.worker.Enqueue(&batch[i]); err != nil {
			rejected++
			continue
		}
		queued++
	}

	c.JSON(http.StatusAccepted, gin.H{
		"queued":   queued,
		"rejected": rejected,
	})
}

// ResolveNow resolves one observation synchronously, bypassing the queue.
// Used by operator tooling where immediate feedback matters more than
// throughput.
// POST /api/intake/observations/sync
func (h *IntakeHandler) ResolveNow(c *gin.Context) {
	var obs ingest.RawObservation
	if err := c.ShouldBindJSON(&obs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := h.resolver.ProcessObservation(&obs); err != nil {
		if errors.Is(err, ingest.ErrBadObservation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
