package search

import (
	"errors"
	"time"

	"listing-aggregator/internal/models"

	"github.com/meilisearch/meilisearch-go"
	"gorm.io/gorm"
)

// ErrUnavailable means the circuit breaker is open and the write was skipped.
var ErrUnavailable = errors.New("search backend unavailable")

// PropertyDocument is the denormalized search projection of a property: its
// own attributes plus building identity and listing aggregates.
type PropertyDocument struct {
	ID           string   `json:"id"`
	BuildingID   string   `json:"building_id"`
	BuildingName string   `json:"building_name"`
	RoomNumber   string   `json:"room_number,omitempty"`
	FloorNumber  *int     `json:"floor_number,omitempty"`
	Area         *float64 `json:"area,omitempty"`
	Layout       string   `json:"layout,omitempty"`
	Direction    string   `json:"direction,omitempty"`
	ListingCount int      `json:"listing_count"`
	MinRent      *int     `json:"min_rent,omitempty"`
	MaxRent      *int     `json:"max_rent,omitempty"`
}

type SearchClient struct {
	client  *meilisearch.Client
	index   string
	db      *gorm.DB
	breaker *CircuitBreaker
}

func NewSearchClient(host, apiKey string, db *gorm.DB) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	return &SearchClient{
		client:  client,
		index:   "properties",
		db:      db,
		breaker: NewCircuitBreaker(3, 5*time.Minute),
	}
}

// InitIndex initializes the Meilisearch index
func (s *SearchClient) InitIndex() error {
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Ignore error if index already exists
	if err != nil && err.Error() != "index already exists" {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"building_name",
		"room_number",
		"layout",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"id",
		"building_id",
		"floor_number",
		"area",
		"layout",
		"direction",
		"listing_count",
		"min_rent",
		"max_rent",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"min_rent",
		"area",
		"floor_number",
		"listing_count",
	})
	return err
}

// IndexPropertyID projects one property into the index, or removes it when the
// property no longer exists.
func (s *SearchClient) IndexPropertyID(propertyID string) error {
	if !s.breaker.CanProceed() {
		return ErrUnavailable
	}

	doc, err := s.buildDocument(propertyID)
	if err == gorm.ErrRecordNotFound {
		return s.DeleteProperty(propertyID)
	}
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).AddDocuments([]PropertyDocument{*doc})
	if err != nil {
		s.breaker.RecordFailure()
		return err
	}
	s.breaker.RecordSuccess()
	return nil
}

// ReindexAll rebuilds the projection for every property. Returns the number of
// documents written.
func (s *SearchClient) ReindexAll() (int, error) {
	if !s.breaker.CanProceed() {
		return 0, ErrUnavailable
	}

	var properties []models.Property
	if err := s.db.Order("id ASC").Find(&properties).Error; err != nil {
		return 0, err
	}

	docs := make([]PropertyDocument, 0, len(properties))
	for _, p := range properties {
		doc, err := s.buildDocument(p.ID)
		if err != nil {
			return 0, err
		}
		docs = append(docs, *doc)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	_, err := s.client.Index(s.index).AddDocuments(docs)
	if err != nil {
		s.breaker.RecordFailure()
		return 0, err
	}
	s.breaker.RecordSuccess()
	return len(docs), nil
}

// DeleteProperty removes a property document from the index.
func (s *SearchClient) DeleteProperty(propertyID string) error {
	if !s.breaker.CanProceed() {
		return ErrUnavailable
	}
	_, err := s.client.Index(s.index).DeleteDocument(propertyID)
	if err != nil {
		s.breaker.RecordFailure()
		return err
	}
	s.breaker.RecordSuccess()
	return nil
}

// buildDocument assembles the projection from the property, its building and
// its active listings.
func (s *SearchClient) buildDocument(propertyID string) (*PropertyDocument, error) {
	var property models.Property
	if err := s.db.Where("id = ?", propertyID).First(&property).Error; err != nil {
		return nil, err
	}

	var building models.Building
	if err := s.db.Where("id = ?", property.BuildingID).First(&building).Error; err != nil {
		return nil, err
	}

	var listings []models.Listing
	if err := s.db.Where("property_id = ? AND status = ?", propertyID, models.ListingStatusActive).
		Find(&listings).Error; err != nil {
		return nil, err
	}

	doc := &PropertyDocument{
		ID:           property.ID,
		BuildingID:   property.BuildingID,
		BuildingName: building.NormalizedName,
		RoomNumber:   property.RoomNumber,
		FloorNumber:  property.FloorNumber,
		Area:         property.Area,
		Layout:       property.Layout,
		Direction:    property.Direction,
		ListingCount: len(listings),
	}
	if property.DisplayBuildingName != "" {
		doc.BuildingName = property.DisplayBuildingName
	}

	for _, l := range listings {
		if l.Rent == nil {
			continue
		}
		if doc.MinRent == nil || *l.Rent < *doc.MinRent {
			rent := *l.Rent
			doc.MinRent = &rent
		}
		if doc.MaxRent == nil || *l.Rent > *doc.MaxRent {
			rent := *l.Rent
			doc.MaxRent = &rent
		}
	}
	return doc, nil
}

// SearchRequest represents search parameters
type SearchRequest struct {
	Query  string
	Limit  int64
	Offset int64
	Filter []string
	Sort   []string
}

// SearchResult represents search results
type SearchResult struct {
	Hits           []PropertyDocument
	TotalHits      int64
	ProcessingTime int64
}

// Search performs a filtered search over property documents.
func (s *SearchClient) Search(req SearchRequest) (*SearchResult, error) {
	if !s.breaker.CanProceed() {
		return nil, ErrUnavailable
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if len(req.Filter) > 0 {
		filterStr := ""
		for i, f := range req.Filter {
			if i > 0 {
				filterStr += " AND "
			}
			filterStr += f
		}
		searchReq.Filter = filterStr
	}
	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}

	searchRes, err := s.client.Index(s.index).Search(req.Query, searchReq)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, err
	}
	s.breaker.RecordSuccess()

	docs := make([]PropertyDocument, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		docs = append(docs, parseDocumentFromHit(hit))
	}

	return &SearchResult{
		Hits:           docs,
		TotalHits:      searchRes.EstimatedTotalHits,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}

// parseDocumentFromHit converts a search hit to a PropertyDocument
func parseDocumentFromHit(hit interface{}) PropertyDocument {
	hitMap, ok := hit.(map[string]interface{})
	if !ok {
		return PropertyDocument{}
	}
	doc := PropertyDocument{
		ID:           getString(hitMap, "id"),
		BuildingID:   getString(hitMap, "building_id"),
		BuildingName: getString(hitMap, "building_name"),
		RoomNumber:   getString(hitMap, "room_number"),
		Layout:       getString(hitMap, "layout"),
		Direction:    getString(hitMap, "direction"),
	}

	if floor, ok := hitMap["floor_number"].(float64); ok {
		floorInt := int(floor)
		doc.FloorNumber = &floorInt
	}
	if area, ok := hitMap["area"].(float64); ok {
		doc.Area = &area
	}
	if count, ok := hitMap["listing_count"].(float64); ok {
		doc.ListingCount = int(count)
	}
	if rent, ok := hitMap["min_rent"].(float64); ok {
		rentInt := int(rent)
		doc.MinRent = &rentInt
	}
	if rent, ok := hitMap["max_rent"].(float64); ok {
		rentInt := int(rent)
		doc.MaxRent = &rentInt
	}
	return doc
}

// getString safely extracts a string from map
func getString(m map[string]interface{}, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

// BreakerStatus reports the circuit breaker state for the admin surface.
func (s *SearchClient) BreakerStatus() map[string]interface{} {
	isOpen, failures, total := s.breaker.GetStatus()
	return map[string]interface{}{
		"open":     isOpen,
		"failures": failures,
		"requests": total,
	}
}
