package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"listing-aggregator/internal/models"

	"gorm.io/gorm"
)

// QueueWorker drains the ingest queue in the background, one observation at a
// time, with exponential backoff on retryable failures.
type QueueWorker struct {
	db           *gorm.DB
	resolver     *Resolver
	stopChan     chan struct{}
	pollInterval time.Duration

	// isRunning is read by the stats endpoint from handler goroutines.
	mu        sync.Mutex
	isRunning bool
}

// NewQueueWorker creates a new queue worker
func NewQueueWorker(db *gorm.DB, resolver *Resolver, pollInterval time.Duration) *QueueWorker {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &QueueWorker{
		db:           db,
		resolver:     resolver,
		stopChan:     make(chan struct{}),
		pollInterval: pollInterval,
	}
}

// Enqueue stores a raw observation for background resolution.
func (w *QueueWorker) Enqueue(obs *RawObservation) (int64, error) {
	if obs.SourceSite == "" || obs.SitePropertyID == "" || obs.URL == "" {
		return 0, fmt.Errorf("missing identity fields: %w", ErrBadObservation)
	}

	payload, err := json.Marshal(obs)
	if err != nil {
		return 0, err
	}

	item := &models.IngestQueue{
		SourceSite:     obs.SourceSite,
		SitePropertyID: obs.SitePropertyID,
		URL:            obs.URL,
		Payload:        string(payload),
		Status:         models.QueueStatusPending,
	}
	if err := w.db.Create(item).Error; err != nil {
		return 0, err
	}
	return item.ID, nil
}

// Start starts the queue worker
func (w *QueueWorker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		log.Println("QueueWorker: Already running")
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	log.Printf("QueueWorker: Started (poll_interval=%v)", w.pollInterval)
	go w.run()
}

// Stop stops the queue worker
func (w *QueueWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	log.Println("QueueWorker: Stopping...")
	close(w.stopChan)
}

func (w *QueueWorker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			log.Println("QueueWorker: Stopped")
			return
		case <-ticker.C:
			w.processNextBatch()
		}
	}
}

// processNextBatch drains everything currently ready, so a burst of intake
// does not wait one poll interval per observation.
func (w *QueueWorker) processNextBatch() {
	for {
		item, ok := w.nextItem()
		if !ok {
			return
		}
		w.processQueueItem(item)

		select {
		case <-w.stopChan:
			return
		default:
		}
	}
}

// nextItem picks the next pending item, falling back to failed items whose
// retry time has passed.
func (w *QueueWorker) nextItem() (*models.IngestQueue, bool) {
	var item models.IngestQueue
	now := time.Now()

	result := w.db.Where("status = ?", models.QueueStatusPending).
		Order("priority DESC, created_at ASC").
		First(&item)

	if result.Error == gorm.ErrRecordNotFound {
		result = w.db.Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", models.QueueStatusFailed, now).
			Order("priority DESC, created_at ASC").
			First(&item)
	}

	if result.Error != nil {
		if result.Error != gorm.ErrRecordNotFound {
			log.Printf("QueueWorker: Error fetching next queue item: %v", result.Error)
		}
		return nil, false
	}
	return &item, true
}

func (w *QueueWorker) processQueueItem(item *models.IngestQueue) {
	log.Printf("QueueWorker: Processing id=%d source=%s attempt=%d", item.ID, item.SourceSite, item.Attempts+1)

	item.Status = models.QueueStatusProcessing
	item.Attempts++
	if err := w.db.Save(item).Error; err != nil {
		log.Printf("QueueWorker: Failed to update status to processing: %v", err)
		return
	}

	var obs RawObservation
	if err := json.Unmarshal([]byte(item.Payload), &obs); err != nil {
		w.handleError(item, fmt.Errorf("unparseable payload: %v: %w", err, ErrBadObservation))
		return
	}

	if err := w.resolver.ProcessObservation(&obs); err != nil {
		w.handleError(item, err)
		return
	}

	item.Status = models.QueueStatusDone
	item.LastError = ""
	completedAt := time.Now()
	item.CompletedAt = &completedAt
	item.NextRetryAt = nil

	if err := w.db.Save(item).Error; err != nil {
		log.Printf("QueueWorker: Failed to mark item as done: %v", err)
	}
}

// handleError routes failures: bad observations never retry, everything else
// backs off until the attempt cap.
func (w *QueueWorker) handleError(item *models.IngestQueue, procErr error) {
	log.Printf("QueueWorker: Resolution failed for id=%d: %v", item.ID, procErr)

	if errors.Is(procErr, ErrBadObservation) {
		item.Status = models.QueueStatusPermanentFail
		item.LastError = procErr.Error()
		completedAt := time.Now()
		item.CompletedAt = &completedAt
		item.NextRetryAt = nil
	} else if item.Attempts >= models.MaxRetryAttempts {
		log.Printf("QueueWorker: Max retries exceeded for id=%d (%d attempts)", item.ID, item.Attempts)
		item.Status = models.QueueStatusPermanentFail
		item.LastError = fmt.Sprintf("max retries exceeded (%d): %s", item.Attempts, procErr.Error())
		completedAt := time.Now()
		item.CompletedAt = &completedAt
		item.NextRetryAt = nil
	} else {
		delay := models.GetNextRetryDelay(item.Attempts - 1) // already incremented
		nextRetry := time.Now().Add(delay)
		item.Status = models.QueueStatusFailed
		item.LastError = procErr.Error()
		item.NextRetryAt = &nextRetry
		log.Printf("QueueWorker: Scheduling retry for id=%d in %v (attempt %d/%d)",
			item.ID, delay, item.Attempts, models.MaxRetryAttempts)
	}

	if err := w.db.Save(item).Error; err != nil {
		log.Printf("QueueWorker: Failed to save retry status: %v", err)
	}
}

// GetQueueStats returns current queue statistics
func (w *QueueWorker) GetQueueStats() map[string]interface{} {
	var stats struct {
		Pending       int64
		Processing    int64
		Done          int64
		Failed        int64
		PermanentFail int64
	}

	w.db.Model(&models.IngestQueue{}).Where("status = ?", models.QueueStatusPending).Count(&stats.Pending)
	w.db.Model(&models.IngestQueue{}).Where("status = ?", models.QueueStatusProcessing).Count(&stats.Processing)
	w.db.Model(&models.IngestQueue{}).Where("status = ?", models.QueueStatusDone).Count(&stats.Done)
	w.db.Model(&models.IngestQueue{}).Where("status = ?", models.QueueStatusFailed).Count(&stats.Failed)
	w.db.Model(&models.IngestQueue{}).Where("status = ?", models.QueueStatusPermanentFail).Count(&stats.PermanentFail)

	w.mu.Lock()
	running := w.isRunning
	w.mu.Unlock()

	return map[string]interface{}{
		"pending":        stats.Pending,
		"processing":     stats.Processing,
		"done":           stats.Done,
		"failed":         stats.Failed,
		"permanent_fail": stats.PermanentFail,
		"is_running":     running,
	}
}
