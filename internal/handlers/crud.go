package handlers

import (
	"net/http"
	"strconv"

	"listing-aggregator/internal/history"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// EntityHandler exposes read and light edit access to the canonical graph.
type EntityHandler struct {
	db      *gorm.DB
	store   *store.Store
	history *history.Service
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(db *gorm.DB, st *store.Store, historySvc *history.Service) *EntityHandler {
	return &EntityHandler{db: db, store: st, history: historySvc}
}

// ListBuildings returns buildings with paging.
// GET /api/buildings?status=active&needs_review=true&limit=50&offset=0
func (h *EntityHandler) ListBuildings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	q := h.db.Model(&models.Building{})
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if c.Query("needs_review") == "true" {
		q = q.Where("needs_review = ?", true)
	}

	var total int64
	q.Count(&total)

	var buildings []models.Building
	if err := q.Order("id ASC").Limit(limit).Offset(offset).Find(&buildings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"buildings": buildings,
		"total":     total,
	})
}

// GetBuilding returns one building with its properties and aliases.
// GET /api/buildings/:id
func (h *EntityHandler) GetBuilding(c *gin.Context) {
	building, err := h.store.GetBuilding(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	properties, err := h.store.PropertiesOfBuilding(building.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	names, extKeys, err := h.store.BuildingAliases(building.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"building":      building,
		"properties":    properties,
		"listing_names": names,
		"external_ids":  extKeys,
	})
}

type buildingPatch struct {
	Address     *string `json:"address"`
	TotalFloors *int    `json:"total_floors"`
	TotalUnits  *int    `json:"total_units"`
	BuiltYear   *int    `json:"built_year"`
	NeedsReview *bool   `json:"needs_review"`
}

// PatchBuilding updates editable building fields.
// PATCH /api/buildings/:id
func (h *EntityHandler) PatchBuilding(c *gin.Context) {
	building, err := h.store.GetBuilding(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var patch buildingPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if patch.Address != nil {
		updates["address"] = *patch.Address
	}
	if patch.TotalFloors != nil {
		updates["total_floors"] = patch.TotalFloors
	}
	if patch.TotalUnits != nil {
		updates["total_units"] = patch.TotalUnits
	}
	if patch.BuiltYear != nil {
		updates["built_year"] = patch.BuiltYear
	}
	if patch.NeedsReview != nil {
		updates["needs_review"] = *patch.NeedsReview
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, building)
		return
	}

	if err := h.db.Model(&models.Building{}).Where("id = ?", building.ID).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.store.GetBuilding(building.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteBuilding removes an empty building.
// DELETE /api/buildings/:id
func (h *EntityHandler) DeleteBuilding(c *gin.Context) {
	if err := h.store.DeleteBuilding(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListProperties returns properties with paging.
// GET /api/properties?building_id=...&needs_review=true
func (h *EntityHandler) ListProperties(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	q := h.db.Model(&models.Property{})
	if buildingID := c.Query("building_id"); buildingID != "" {
		q = q.Where("building_id = ?", buildingID)
	}
	if c.Query("needs_review") == "true" {
		q = q.Where("needs_review = ?", true)
	}

	var total int64
	q.Count(&total)

	var properties []models.Property
	if err := q.Order("id ASC").Limit(limit).Offset(offset).Find(&properties).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"properties": properties,
		"total":      total,
	})
}

// GetProperty returns one property with its listings.
// GET /api/properties/:id
func (h *EntityHandler) GetProperty(c *gin.Context) {
	property, err := h.store.GetProperty(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	listings, err := h.store.ListingsOfProperty(property.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"property": property,
		"listings": listings,
	})
}

// DeleteProperty removes an empty property.
// DELETE /api/properties/:id
func (h *EntityHandler) DeleteProperty(c *gin.Context) {
	if err := h.store.DeleteProperty(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListListings returns listings with simple filters.
// GET /api/listings?property_id=...&status=active&source_site=...
func (h *EntityHandler) ListListings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	q := h.db.Model(&models.Listing{})
	if propertyID := c.Query("property_id"); propertyID != "" {
		q = q.Where("property_id = ?", propertyID)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if source := c.Query("source_site"); source != "" {
		q = q.Where("source_site = ?", source)
	}

	var total int64
	q.Count(&total)

	var listings []models.Listing
	if err := q.Order("last_confirmed_at DESC").Limit(limit).Offset(offset).Find(&listings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"total":    total,
	})
}

// GetListing returns one listing.
// GET /api/listings/:id
func (h *EntityHandler) GetListing(c *gin.Context) {
	listing, err := h.store.GetListing(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// GetListingHistory returns the listing's price history, oldest first.
// GET /api/listings/:id/history
func (h *EntityHandler) GetListingHistory(c *gin.Context) {
	listing, err := h.store.GetListing(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	points, err := h.history.GetListingHistory(listing.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listing_id": listing.ID,
		"points":     points,
	})
}
