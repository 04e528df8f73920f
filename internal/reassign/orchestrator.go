package reassign

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"listing-aggregator/internal/matching"
	"listing-aggregator/internal/models"
	"listing-aggregator/internal/normalize"
	"listing-aggregator/internal/store"

	"gorm.io/gorm"
)

// ErrInvalidChoice means a confirmation referenced a candidate that was not in
// the most recently offered set. It guards against the console acting on a
// stale candidate list.
var ErrInvalidChoice = errors.New("invalid choice")

// SourceKind selects what is being detached.
type SourceKind string

const (
	KindListing  SourceKind = "listing"
	KindProperty SourceKind = "property"
)

// State is the per-request reassignment state.
type State string

const (
	StateRequested         State = "requested"
	StateCandidatesOffered State = "candidates_offered"
	StateConfirmed         State = "confirmed"
	StateApplied           State = "applied"
	StateCancelled         State = "cancelled"
)

// Choice is the operator's confirmed decision: an offered candidate id, or
// the creation of a new parent with the given attributes.
type Choice struct {
	ExistingTargetID string                    `json:"existing_target_id,omitempty"`
	CreateNew        bool                      `json:"create_new,omitempty"`
	NewProperty      *store.PropertyAttributes `json:"new_property,omitempty"`
	NewBuilding      *store.BuildingAttributes `json:"new_building,omitempty"`
}

// Offer is what the console shows the operator after a detach request.
type Offer struct {
	SourceID       string               `json:"source_id"`
	SourceKind     SourceKind           `json:"source_kind"`
	Candidates     []matching.Candidate `json:"candidates"`
	CanCreateNew   bool                 `json:"can_create_new"`
	SourceSnapshot interface{}          `json:"source_snapshot"`
}

// Result reports an applied reassignment.
type Result struct {
	NewParentID     string `json:"new_parent_id"`
	CreatedNew      bool   `json:"created_new"`
	AncestorDeleted bool   `json:"ancestor_deleted"`
}

// session tracks one in-flight reassignment. Sessions are in-memory and
// advisory: abandoning one has no side effects, only Apply touches the graph.
type session struct {
	state     State
	oldParent string
	offered   map[string]bool
	choice    Choice
	offeredAt time.Time
}

// Orchestrator drives the detach/attach flow: request candidates, confirm a
// choice against the offered set, then apply the rewire atomically.
type Orchestrator struct {
	store  *store.Store
	scorer *matching.Scorer

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an orchestrator.
func New(st *store.Store, scorer *matching.Scorer) *Orchestrator {
	return &Orchestrator{
		store:    st,
		scorer:   scorer,
		sessions: make(map[string]*session),
	}
}

func sessionKey(kind SourceKind, sourceID string) string {
	return string(kind) + ":" + sourceID
}

// RequestDetach validates the source, scores the candidate pool and offers
// ranked targets. The pool never re-offers the source's current parent.
func (o *Orchestrator) RequestDetach(sourceID string, kind SourceKind) (*Offer, error) {
	var offer *Offer
	var oldParent string
	var err error

	switch kind {
	case KindListing:
		offer, oldParent, err = o.offerForListing(sourceID)
	case KindProperty:
		offer, oldParent, err = o.offerForProperty(sourceID)
	default:
		return nil, fmt.Errorf("unknown source kind %q: %w", kind, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	offered := make(map[string]bool, len(offer.Candidates))
	for _, c := range offer.Candidates {
		offered[c.TargetID] = true
	}

	o.mu.Lock()
	o.sessions[sessionKey(kind, sourceID)] = &session{
		state:     StateCandidatesOffered,
		oldParent: oldParent,
		offered:   offered,
		offeredAt: time.Now(),
	}
	o.mu.Unlock()

	log.Printf("Reassign: offered %d candidates for %s %s (can_create_new=%v)",
		len(offer.Candidates), kind, sourceID, offer.CanCreateNew)
	return offer, nil
}

func (o *Orchestrator) offerForListing(listingID string) (*Offer, string, error) {
	listing, err := o.store.GetListing(listingID)
	if err != nil {
		return nil, "", err
	}

	src := o.listingSource(listing)

	pool, err := o.store.PropertyPool("")
	if err != nil {
		return nil, "", err
	}

	targets := make([]matching.Target, 0, len(pool))
	buildingCache := make(map[string]*buildingContext)
	for _, p := range pool {
		if p.ID == listing.PropertyID {
			continue // re-offering the status quo is meaningless
		}
		ctx, err := o.buildingContext(buildingCache, p.BuildingID)
		if err != nil {
			return nil, "", err
		}
		targets = append(targets, o.propertyTarget(&p, ctx))
	}

	candidates := o.scorer.ScoreCandidates(src, targets)
	return &Offer{
		SourceID:       listingID,
		SourceKind:     KindListing,
		Candidates:     candidates,
		CanCreateNew:   o.scorer.CanCreateNew(candidates),
		SourceSnapshot: listing,
	}, listing.PropertyID, nil
}

func (o *Orchestrator) offerForProperty(propertyID string) (*Offer, string, error) {
	property, err := o.store.GetProperty(propertyID)
	if err != nil {
		return nil, "", err
	}

	src, err := o.propertySource(property)
	if err != nil {
		return nil, "", err
	}

	pool, err := o.store.BuildingPool(property.BuildingID)
	if err != nil {
		return nil, "", err
	}

	targets := make([]matching.Target, 0, len(pool))
	for _, b := range pool {
		names, extKeys, err := o.store.BuildingAliases(b.ID)
		if err != nil {
			return nil, "", err
		}
		targets = append(targets, matching.Target{
			ID: b.ID,
			Attributes: matching.Attributes{
				NameTokens: normalize.NormalizeBuildingName(b.NormalizedName),
			},
			Aliases:      names,
			ExternalKeys: extKeys,
		})
	}

	candidates := o.scorer.ScoreCandidates(src, targets)
	return &Offer{
		SourceID:       propertyID,
		SourceKind:     KindProperty,
		Candidates:     candidates,
		CanCreateNew:   o.scorer.CanCreateNew(candidates),
		SourceSnapshot: property,
	}, property.BuildingID, nil
}

// Confirm validates the operator's choice against the last offered candidate
// set. An existing-target id that was never offered is rejected outright.
func (o *Orchestrator) Confirm(sourceID string, kind SourceKind, choice Choice) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, ok := o.sessions[sessionKey(kind, sourceID)]
	if !ok || sess.state != StateCandidatesOffered {
		return fmt.Errorf("no offered candidates for %s %s: %w", kind, sourceID, ErrInvalidChoice)
	}

	if choice.CreateNew {
		switch kind {
		case KindListing:
			if choice.NewProperty == nil {
				return fmt.Errorf("create_new without property attributes: %w", ErrInvalidChoice)
			}
		case KindProperty:
			if choice.NewBuilding == nil {
				return fmt.Errorf("create_new without building attributes: %w", ErrInvalidChoice)
			}
		}
	} else {
		if choice.ExistingTargetID == "" {
			return fmt.Errorf("neither target id nor create_new given: %w", ErrInvalidChoice)
		}
		if !sess.offered[choice.ExistingTargetID] {
			return fmt.Errorf("target %s was not among the offered candidates: %w",
				choice.ExistingTargetID, ErrInvalidChoice)
		}
	}

	sess.choice = choice
	sess.state = StateConfirmed
	return nil
}

// Cancel abandons an in-flight reassignment. Nothing was persisted, so there
// is nothing to clean up.
func (o *Orchestrator) Cancel(sourceID string, kind SourceKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := sessionKey(kind, sourceID)
	if _, ok := o.sessions[key]; !ok {
		return false
	}
	delete(o.sessions, key)
	return true
}

// Apply performs the confirmed rewire atomically. The session is consumed on
// success, so of two racing applies exactly one wins and the other observes a
// conflict. On failure the source stays on its original parent.
func (o *Orchestrator) Apply(sourceID string, kind SourceKind, deleteEmptiedAncestor bool) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := sessionKey(kind, sourceID)
	sess, ok := o.sessions[key]
	if !ok || sess.state != StateConfirmed {
		return nil, fmt.Errorf("no confirmed reassignment for %s %s: %w", kind, sourceID, store.ErrConflict)
	}

	var result *Result
	var err error
	switch kind {
	case KindListing:
		result, err = o.applyListing(sourceID, sess, deleteEmptiedAncestor)
	case KindProperty:
		result, err = o.applyProperty(sourceID, sess, deleteEmptiedAncestor)
	}
	if err != nil {
		return nil, err
	}

	delete(o.sessions, key)
	log.Printf("Reassign: applied %s %s -> %s (created_new=%v, ancestor_deleted=%v)",
		kind, sourceID, result.NewParentID, result.CreatedNew, result.AncestorDeleted)
	return result, nil
}

func (o *Orchestrator) applyListing(listingID string, sess *session, deleteAncestor bool) (*Result, error) {
	result := &Result{}
	err := o.store.WithLock(func(tx *gorm.DB) error {
		targetID := sess.choice.ExistingTargetID
		if sess.choice.CreateNew {
			listing, err := txListing(tx, listingID)
			if err != nil {
				return err
			}
			current, err := txProperty(tx, listing.PropertyID)
			if err != nil {
				return err
			}
			// A new property for a detached listing goes under the
			// building the listing already sits in; moving buildings is
			// a property-level operation.
			created, wasNew, err := store.CreatePropertyTx(tx, *sess.choice.NewProperty, current.BuildingID)
			if err != nil {
				return err
			}
			targetID = created.ID
			result.CreatedNew = wasNew
		}

		if err := store.AttachListingTx(tx, listingID, targetID); err != nil {
			return err
		}
		result.NewParentID = targetID

		if deleteAncestor && sess.oldParent != targetID {
			deleted, err := deletePropertyIfEmpty(tx, sess.oldParent)
			if err != nil {
				return err
			}
			result.AncestorDeleted = deleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) applyProperty(propertyID string, sess *session, deleteAncestor bool) (*Result, error) {
	result := &Result{}
	err := o.store.WithLock(func(tx *gorm.DB) error {
		targetID := sess.choice.ExistingTargetID
		if sess.choice.CreateNew {
			created, err := store.CreateBuildingTx(tx, *sess.choice.NewBuilding)
			if err != nil {
				return err
			}
			targetID = created.ID
			result.CreatedNew = true
		}

		if err := store.AttachPropertyTx(tx, propertyID, targetID); err != nil {
			return err
		}
		result.NewParentID = targetID

		if deleteAncestor && sess.oldParent != targetID {
			deleted, err := deleteBuildingIfEmpty(tx, sess.oldParent)
			if err != nil {
				return err
			}
			result.AncestorDeleted = deleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// deletePropertyIfEmpty deletes the old parent only when the move actually
// emptied it; otherwise it stays flagged for review.
func deletePropertyIfEmpty(tx *gorm.DB, propertyID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.Listing{}).Where("property_id = ?", propertyID).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := store.DeletePropertyTx(tx, propertyID); err != nil {
		return false, err
	}
	return true, nil
}

func deleteBuildingIfEmpty(tx *gorm.DB, buildingID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.Property{}).Where("building_id = ?", buildingID).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := store.DeleteBuildingTx(tx, buildingID); err != nil {
		return false, err
	}
	return true, nil
}

// SessionState reports the state of an in-flight reassignment, for the admin
// surface.
func (o *Orchestrator) SessionState(sourceID string, kind SourceKind) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[sessionKey(kind, sourceID)]
	if !ok {
		return "", false
	}
	return sess.state, true
}

// --- attribute assembly ---

func (o *Orchestrator) listingSource(listing *models.Listing) matching.Source {
	src := matching.Source{
		RawBuildingName: listing.BuildingNameText,
	}
	src.FloorNumber = listing.FloorNumber
	if listing.Area != nil {
		rounded := normalize.RoundArea(*listing.Area)
		src.Area = &rounded
	}
	src.Layout = normalize.NormalizeLayout(listing.Layout)
	src.Direction = normalize.NormalizeDirection(listing.Direction)
	src.NameTokens = normalize.NormalizeBuildingName(listing.BuildingNameText)
	return src
}

func (o *Orchestrator) propertySource(property *models.Property) (matching.Source, error) {
	src := matching.Source{}
	src.FloorNumber = property.FloorNumber
	src.Area = property.Area
	src.Layout = property.Layout
	src.Direction = property.Direction

	name := property.DisplayBuildingName
	if name == "" {
		building, err := o.store.GetBuilding(property.BuildingID)
		if err != nil {
			return src, err
		}
		name = building.NormalizedName
	}
	src.RawBuildingName = name
	src.NameTokens = normalize.NormalizeBuildingName(name)
	return src, nil
}

type buildingContext struct {
	building *models.Building
	names    []string
	extKeys  []string
	tokens   []string
}

func (o *Orchestrator) buildingContext(cache map[string]*buildingContext, buildingID string) (*buildingContext, error) {
	if ctx, ok := cache[buildingID]; ok {
		return ctx, nil
	}
	building, err := o.store.GetBuilding(buildingID)
	if err != nil {
		return nil, err
	}
	names, extKeys, err := o.store.BuildingAliases(buildingID)
	if err != nil {
		return nil, err
	}
	ctx := &buildingContext{
		building: building,
		names:    names,
		extKeys:  extKeys,
		tokens:   normalize.NormalizeBuildingName(building.NormalizedName),
	}
	cache[buildingID] = ctx
	return ctx, nil
}

func (o *Orchestrator) propertyTarget(p *models.Property, ctx *buildingContext) matching.Target {
	tokens := ctx.tokens
	if p.DisplayBuildingName != "" {
		tokens = normalize.NormalizeBuildingName(p.DisplayBuildingName)
	}
	return matching.Target{
		ID: p.ID,
		Attributes: matching.Attributes{
			FloorNumber: p.FloorNumber,
			Area:        p.Area,
			Layout:      p.Layout,
			Direction:   p.Direction,
			NameTokens:  tokens,
		},
		Aliases:      ctx.names,
		ExternalKeys: ctx.extKeys,
	}
}

func txListing(tx *gorm.DB, id string) (*models.Listing, error) {
	var listing models.Listing
	if err := tx.Where("id = ?", id).First(&listing).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("listing %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return &listing, nil
}

func txProperty(tx *gorm.DB, id string) (*models.Property, error) {
	var property models.Property
	if err := tx.Where("id = ?", id).First(&property).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("property %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return &property, nil
}
