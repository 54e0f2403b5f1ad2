package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-grow/internal/auth"
	"github.com/nerrad567/gray-logic-grow/internal/location"
)

// requireSite checks a site-wide capability for the caller.
func (s *Server) requireSite(r *http.Request, capability auth.Capability) error {
	return auth.Require(r.Context(), s.authz, actor(r), capability, auth.GlobalScope())
}

// handleListGreenhouses returns all greenhouses.
//
// GET /greenhouses
func (s *Server) handleListGreenhouses(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapCycleRead); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	houses, err := s.places.ListGreenhouses(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if houses == nil {
		houses = []location.Greenhouse{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"greenhouses": houses, "count": len(houses)})
}

// handleCreateGreenhouse creates a greenhouse.
//
// POST /greenhouses
func (s *Server) handleCreateGreenhouse(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapSiteManage); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var gh location.Greenhouse
	if !decodeBody(w, r, &gh) {
		return
	}
	if err := s.places.CreateGreenhouse(r.Context(), &gh); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, gh)
}

// handleListZones returns zones, optionally for one greenhouse. Zones
// outside the caller's restriction are omitted.
//
// GET /zones?greenhouse_id=gh-1
func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapCycleRead); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	zones, err := s.places.ListZones(r.Context(), r.URL.Query().Get("greenhouse_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	caller := actor(r)
	visible := make([]location.Zone, 0, len(zones))
	for _, z := range zones {
		if caller.CoversZone(z.ID) {
			visible = append(visible, z)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": visible, "count": len(visible)})
}

// handleCreateZone creates a zone in an existing greenhouse.
//
// POST /zones
func (s *Server) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapSiteManage); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var zone location.Zone
	if !decodeBody(w, r, &zone) {
		return
	}
	if err := s.places.CreateZone(r.Context(), &zone); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, zone)
}

// handleGetZone returns one zone.
//
// GET /zones/{id}
func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := auth.Require(r.Context(), s.authz, actor(r), auth.CapCycleRead, auth.ZoneScope(id)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	zone, err := s.places.GetZone(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, zone)
}

// handleListNodes returns the nodes of one owner.
//
// GET /nodes?owner_kind=zone&owner_id=zone-a
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapCycleRead); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	owner := location.Owner{
		Kind: location.OwnerKind(r.URL.Query().Get("owner_kind")),
		ID:   r.URL.Query().Get("owner_id"),
	}
	if owner.Kind == "" || owner.ID == "" {
		writeBadRequest(w, "owner_kind and owner_id are required")
		return
	}
	nodes, err := s.places.ListNodesByOwner(r.Context(), owner)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []location.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

// handleCreateNode registers a field controller.
//
// POST /nodes
func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapSiteManage); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var node location.Node
	if !decodeBody(w, r, &node) {
		return
	}
	if err := s.places.CreateNode(r.Context(), &node); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// handleGetNode returns one node.
//
// GET /nodes/{id}
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapCycleRead); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	node, err := s.places.GetNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleListPlants returns the plant catalog.
//
// GET /plants
func (s *Server) handleListPlants(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapCycleRead); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	plants, err := s.places.ListPlants(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if plants == nil {
		plants = []location.Plant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plants": plants, "count": len(plants)})
}

// handleCreatePlant adds a plant.
//
// POST /plants
func (s *Server) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	if err := s.requireSite(r, auth.CapSiteManage); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var plant location.Plant
	if !decodeBody(w, r, &plant) {
		return
	}
	if err := s.places.CreatePlant(r.Context(), &plant); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plant)
}
