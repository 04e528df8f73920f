package handlers

import (
	"net/http"
	"strconv"

	"listing-aggregator/internal/database"

	"github.com/gin-gonic/gin"
)

// BrowseHandler serves the PostgreSQL browse store in read-side deployments.
type BrowseHandler struct {
	db *database.DB
}

// NewBrowseHandler creates a new browse handler
func NewBrowseHandler(db *database.DB) *BrowseHandler {
	return &BrowseHandler{db: db}
}

// ListListings returns filtered listings from the browse store.
// GET /api/browse/listings?source_site=...&layout=1LDK&min_rent=50000&max_rent=120000
func (h *BrowseHandler) ListListings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	minRent, _ := strconv.Atoi(c.Query("min_rent"))
	maxRent, _ := strconv.Atoi(c.Query("max_rent"))

	listings, err := h.db.ListListings(database.ListFilter{
		SourceSite: c.Query("source_site"),
		Layout:     c.Query("layout"),
		MinRent:    minRent,
		MaxRent:    maxRent,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetListing returns one listing from the browse store.
// GET /api/browse/listings/:id
func (h *BrowseHandler) GetListing(c *gin.Context) {
	row, err := h.db.GetListingByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// SaveListing upserts a listing row into the browse store.
// POST /api/browse/listings
func (h *BrowseHandler) SaveListing(c *gin.Context) {
	var row database.ListingRow
	if err := c.ShouldBindJSON(&row); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if row.ID == "" || row.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and url are required"})
		return
	}

	if err := h.db.SaveListing(&row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
