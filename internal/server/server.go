// Package server implements the HTTP command surface of the dispatch
// daemon.
//
// The API is the contract with the station's console UI: CRUD for the
// roster and occurrence catalog, activation commands, the alert trigger,
// audio cache maintenance, and a Server-Sent Events stream that pushes the
// full data store after every mutation. Mutating commands also keep the
// audio cache warm so alerts play without waiting on synthesis.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nunoalves/firecentral/internal/model"
	"github.com/nunoalves/firecentral/internal/playback"
	"github.com/nunoalves/firecentral/internal/speech"
	"github.com/nunoalves/firecentral/internal/store"
)

// Announcer is the slice of the announcement assembler the server drives.
type Announcer interface {
	Announce(ctx context.Context, occurrenceID string, assignments map[string][]string, sink playback.Sink) error
	WarmCue(ctx context.Context, key string, u speech.Utterance)
	EvictCue(key string) error
	ClearCache() error
	RebuildCache(ctx context.Context) error
}

// Player hands out one playback sink per announcement.
type Player interface {
	Session(ctx context.Context) playback.Sink
}

// Server serves the command API.
type Server struct {
	port      int
	store     *store.Store
	announcer Announcer
	player    Player
	bus       *bus
	validate  *validator.Validate
	server    *http.Server

	// background outlives individual requests; cue warm-ups run on it so
	// a client disconnect does not abort them.
	background context.Context
}

// New creates a Server on the given port.
func New(port int, st *store.Store, a Announcer, p Player) *Server {
	return &Server{
		port:       port,
		store:      st,
		announcer:  a,
		player:     p,
		bus:        newBus(),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		background: context.Background(),
	}
}

// routes builds the command mux. Split from ListenAndServe so tests can
// drive the handler through httptest without a listener.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/store", s.handleGetStore)

	mux.HandleFunc("POST /api/occurrences", s.handleCreateOccurrence)
	mux.HandleFunc("PUT /api/occurrences/{id}", s.handleUpdateOccurrence)
	mux.HandleFunc("DELETE /api/occurrences/{id}", s.handleDeleteOccurrence)

	mux.HandleFunc("POST /api/staff", s.handleCreateStaff)
	mux.HandleFunc("PUT /api/staff/{id}", s.handleUpdateStaff)
	mux.HandleFunc("DELETE /api/staff/{id}", s.handleDeleteStaff)

	mux.HandleFunc("POST /api/vehicles", s.handleCreateVehicle)
	mux.HandleFunc("PUT /api/vehicles/{id}", s.handleUpdateVehicle)
	mux.HandleFunc("DELETE /api/vehicles/{id}", s.handleDeleteVehicle)

	mux.HandleFunc("POST /api/active-occurrences", s.handleCreateActiveOccurrence)
	mux.HandleFunc("PUT /api/active-occurrences/{id}", s.handleUpdateActiveOccurrence)
	mux.HandleFunc("DELETE /api/active-occurrences/{id}", s.handleDeleteActiveOccurrence)

	mux.HandleFunc("POST /api/shift", s.handleShift)
	mux.HandleFunc("POST /api/alert", s.handleAlert)

	mux.HandleFunc("POST /api/cache/rebuild", s.handleRebuildCache)
	mux.HandleFunc("DELETE /api/cache", s.handleClearCache)

	mux.HandleFunc("GET /events", s.handleEvents)

	// Swagger UI — serves the generated OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return mux
}

// ListenAndServe starts the command server. It blocks until the context is
// cancelled and the server has drained.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.background = ctx

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("command server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		slog.Info("command server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("command server: %w", err)
	}
	return nil
}

// --- request payloads ---

type occurrencePayload struct {
	Label string `json:"label" validate:"required"`
	Image string `json:"image"`
}

type staffPayload struct {
	Label      string `json:"label" validate:"required"`
	Name       string `json:"name"`
	Rank       string `json:"rank"`
	Permission string `json:"permission"`
	State      string `json:"state" validate:"omitempty,oneof=available unavailable dispatched inactive sickLeave"`
}

type vehiclePayload struct {
	Label        string  `json:"label" validate:"required"`
	Capacity     *int    `json:"capacity" validate:"omitempty,min=0"`
	Category     string  `json:"category"`
	LicensePlate *string `json:"licensePlate"`
	State        string  `json:"state" validate:"omitempty,oneof=available unavailable dispatched"`
}

type activeOccurrencePayload struct {
	OccurrenceID         string              `json:"occurrenceId" validate:"required"`
	StaffIDs             []string            `json:"staffIds"`
	VehicleIDs           []string            `json:"vehicleIds"`
	VehicleAssignmentMap map[string][]string `json:"vehicleAssignmentMap"`
	Address              string              `json:"address"`
	Description          string              `json:"description"`
	Location             string              `json:"location"`
	ReferencePoint       string              `json:"referencePoint"`
	CoduNumber           string              `json:"coduNumber"`
	VmerSiv              string              `json:"vmerSiv"`
}

type shiftPayload struct {
	AvailableStaffIDs []string `json:"availableStaffIds" validate:"required"`
}

type alertPayload struct {
	OccurrenceID         string              `json:"occurrenceId" validate:"required"`
	VehicleAssignmentMap map[string][]string `json:"vehicleAssignmentMap" validate:"required"`
}

type idResponse struct {
	ID string `json:"internalId"`
}

// decode unmarshals and validates a request payload.
func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps store and announcer errors onto status codes with plain string
// bodies.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		slog.Error("command failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// publishState pushes the post-mutation store to event subscribers.
func (s *Server) publishState() {
	s.bus.publish(s.store.DataStore())
}

// warm regenerates the cue for key off the request path.
func (s *Server) warm(key string, u speech.Utterance) {
	ctx := s.background
	go s.announcer.WarmCue(ctx, key, u)
}

// evict drops a cached cue, logging rather than failing the command.
func (s *Server) evict(key string) {
	if err := s.announcer.EvictCue(key); err != nil {
		slog.Warn("evicting cue failed", "key", key, "error", err)
	}
}

// --- store snapshot ---

// handleGetStore returns the full data store.
//
// @Summary  Read the full data store
// @Tags     store
// @Produce  json
// @Success  200  {object}  model.DataStore
// @Router   /api/store [get]
func (s *Server) handleGetStore(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.DataStore())
}

// --- occurrence catalog ---

// handleCreateOccurrence creates an occurrence type.
//
// @Summary  Create an occurrence type
// @Tags     occurrences
// @Accept   json
// @Produce  json
// @Param    occurrence  body  occurrencePayload  true  "Occurrence"
// @Success  201  {object}  idResponse
// @Failure  400  {string}  string
// @Router   /api/occurrences [post]
func (s *Server) handleCreateOccurrence(w http.ResponseWriter, r *http.Request) {
	var p occurrencePayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.store.CreateOccurrence(model.Occurrence{Label: p.Label, Image: p.Image})
	if err != nil {
		fail(w, err)
		return
	}

	s.warm(id, speech.Occurrence(p.Label))
	s.publishState()
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// handleUpdateOccurrence replaces an occurrence type. The cached cue is
// regenerated only when the spoken label changed.
//
// @Summary  Update an occurrence type
// @Tags     occurrences
// @Accept   json
// @Param    id          path  string             true  "Occurrence id"
// @Param    occurrence  body  occurrencePayload  true  "Occurrence"
// @Success  204  {string}  string
// @Failure  400  {string}  string
// @Router   /api/occurrences/{id} [put]
func (s *Server) handleUpdateOccurrence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p occurrencePayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	previous, err := s.store.UpdateOccurrence(id, model.Occurrence{Label: p.Label, Image: p.Image})
	if err != nil {
		fail(w, err)
		return
	}

	if previous == nil || previous.Label != p.Label {
		s.evict(id)
		s.warm(id, speech.Occurrence(p.Label))
	}
	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// @Summary  Delete an occurrence type
// @Tags     occurrences
// @Param    id  path  string  true  "Occurrence id"
// @Success  204  {string}  string
// @Router   /api/occurrences/{id} [delete]
func (s *Server) handleDeleteOccurrence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteOccurrence(id); err != nil {
		fail(w, err)
		return
	}

	s.evict(id)
	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// --- staff roster ---

// @Summary  Create a staff member
// @Tags     staff
// @Accept   json
// @Produce  json
// @Param    staff  body  staffPayload  true  "Staff member"
// @Success  201  {object}  idResponse
// @Failure  400  {string}  string
// @Router   /api/staff [post]
func (s *Server) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var p staffPayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.State == "" {
		p.State = string(model.StaffAvailable)
	}

	id, err := s.store.CreateStaff(model.Staff{
		Label:      p.Label,
		Name:       p.Name,
		Rank:       p.Rank,
		Permission: p.Permission,
		State:      model.StaffState(p.State),
	})
	if err != nil {
		fail(w, err)
		return
	}

	s.warm(id, speech.Staff(p.Label))
	s.publishState()
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// @Summary  Update a staff member
// @Tags     staff
// @Accept   json
// @Param    id     path  string        true  "Staff id"
// @Param    staff  body  staffPayload  true  "Staff member"
// @Success  204  {string}  string
// @Failure  400  {string}  string
// @Router   /api/staff/{id} [put]
func (s *Server) handleUpdateStaff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p staffPayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.State == "" {
		p.State = string(model.StaffAvailable)
	}

	previous, err := s.store.UpdateStaff(id, model.Staff{
		Label:      p.Label,
		Name:       p.Name,
		Rank:       p.Rank,
		Permission: p.Permission,
		State:      model.StaffState(p.State),
	})
	if err != nil {
		fail(w, err)
		return
	}

	if previous == nil || previous.Label != p.Label {
		s.evict(id)
		s.warm(id, speech.Staff(p.Label))
	}
	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// @Summary  Delete a staff member
// @Tags     staff
// @Param    id  path  string  true  "Staff id"
// @Success  204  {string}  string
// @Router   /api/staff/{id} [delete]
func (s *Server) handleDeleteStaff(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteStaff(id); err != nil {
		fail(w, err)
		return
	}

	s.evict(id)
	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// --- vehicle roster ---

// @Summary  Create a vehicle
// @Tags     vehicles
// @Accept   json
// @Produce  json
// @Param    vehicle  body  vehiclePayload  true  "Vehicle"
// @Success  201  {object}  idResponse
// @Failure  400  {string}  string
// @Router   /api/vehicles [post]
func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var p vehiclePayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.State == "" {
		p.State = string(model.VehicleAvailable)
	}

	id, err := s.store.CreateVehicle(model.Vehicle{
		Label:        p.Label,
		Capacity:     p.Capacity,
		Category:     p.Category,
		LicensePlate: p.LicensePlate,
		State:        model.VehicleState(p.State),
	})
	if err != nil {
		fail(w, err)
		return
	}

	s.warm(id, speech.Vehicle(p.Label))
	s.publishState()
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// @Summary  Update a vehicle
// @Tags     vehicles
// @Accept   json
// @Param    id       path  string          true  "Vehicle id"
// @Param    vehicle  body  vehiclePayload  true  "Vehicle"
// @Success  204  {string}  string
// @Failure  400  {string}  string
// @Router   /api/vehicles/{id} [put]
func (s *Server) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p vehiclePayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.State == "" {
		p.State = string(model.VehicleAvailable)
	}

	previous, err := s.store.UpdateVehicle(id, model.Vehicle{
		Label:        p.Label,
		Capacity:     p.Capacity,
		Category:     p.Category,
		LicensePlate: p.LicensePlate,
		State:        model.VehicleState(p.State),
	})
	if err != nil {
		fail(w, err)
		return
	}

	if previous == nil || previous.Label != p.Label {
		s.evict(id)
		s.warm(id, speech.Vehicle(p.Label))
	}
	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// @Summary  Delete a vehicle
// @Tags     vehicles
// @Param    id  path  string  true  "Vehicle id"
// @Success  204  {string}  string
// @Router   /api/vehicles/{id} [delete]
func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteVehicle(id); err != nil {
		fail(w, err)
		return
	}

	s.evict(id)
	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// --- active occurrences ---

// @Summary     Activate an occurrence
// @Description Creates an active occurrence, claiming the listed staff and vehicles. Resources still attached to another active occurrence are detached from it first.
// @Tags        active-occurrences
// @Accept      json
// @Produce     json
// @Param       activeOccurrence  body  activeOccurrencePayload  true  "Active occurrence"
// @Success     201  {object}  idResponse
// @Failure     400  {string}  string
// @Failure     404  {string}  string
// @Router      /api/active-occurrences [post]
func (s *Server) handleCreateActiveOccurrence(w http.ResponseWriter, r *http.Request) {
	var p activeOccurrencePayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.store.CreateActiveOccurrence(p.toModel())
	if err != nil {
		fail(w, err)
		return
	}

	s.publishState()
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// @Summary     Update an active occurrence
// @Description Replaces the active occurrence. Staff and vehicles removed by the update return to available, added ones become dispatched.
// @Tags        active-occurrences
// @Accept      json
// @Param       id                path  string                   true  "Active occurrence id"
// @Param       activeOccurrence  body  activeOccurrencePayload  true  "Active occurrence"
// @Success     204  {string}  string
// @Failure     400  {string}  string
// @Failure     404  {string}  string
// @Router      /api/active-occurrences/{id} [put]
func (s *Server) handleUpdateActiveOccurrence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var p activeOccurrencePayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := s.store.UpdateActiveOccurrence(id, p.toModel()); err != nil {
		fail(w, err)
		return
	}

	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// @Summary     Close an active occurrence
// @Description Deletes the active occurrence and returns its staff and vehicles to available.
// @Tags        active-occurrences
// @Param       id  path  string  true  "Active occurrence id"
// @Success     204  {string}  string
// @Router      /api/active-occurrences/{id} [delete]
func (s *Server) handleDeleteActiveOccurrence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteActiveOccurrence(id); err != nil {
		fail(w, err)
		return
	}

	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

func (p activeOccurrencePayload) toModel() model.ActiveOccurrence {
	return model.ActiveOccurrence{
		OccurrenceID:         p.OccurrenceID,
		StaffIDs:             p.StaffIDs,
		VehicleIDs:           p.VehicleIDs,
		VehicleAssignmentMap: p.VehicleAssignmentMap,
		Address:              p.Address,
		Description:          p.Description,
		Location:             p.Location,
		ReferencePoint:       p.ReferencePoint,
		CoduNumber:           p.CoduNumber,
		VmerSiv:              p.VmerSiv,
	}
}

// --- shift and alert commands ---

// @Summary     Set the staff shift
// @Description Marks the listed staff available and everyone else unavailable. Dispatched, inactive and sick leave staff are not touched.
// @Tags        shift
// @Accept      json
// @Param       shift  body  shiftPayload  true  "Available staff ids"
// @Success     204  {string}  string
// @Failure     400  {string}  string
// @Router      /api/shift [post]
func (s *Server) handleShift(w http.ResponseWriter, r *http.Request) {
	var p shiftPayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.SetStaffShift(p.AvailableStaffIDs); err != nil {
		fail(w, err)
		return
	}

	s.publishState()
	w.WriteHeader(http.StatusNoContent)
}

// @Summary     Play a dispatch announcement
// @Description Assembles and plays the alert for the given occurrence and vehicle crew assignment. Blocks until playback finishes. Any cue that cannot be resolved aborts the whole announcement.
// @Tags        alert
// @Accept      json
// @Param       alert  body  alertPayload  true  "Alert request"
// @Success     204  {string}  string
// @Failure     400  {string}  string
// @Failure     404  {string}  string
// @Failure     500  {string}  string
// @Router      /api/alert [post]
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	var p alertPayload
	if err := s.decode(r, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sink := s.player.Session(r.Context())
	if err := s.announcer.Announce(r.Context(), p.OccurrenceID, p.VehicleAssignmentMap, sink); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- audio cache maintenance ---

// @Summary     Rebuild the audio cache
// @Description Clears the cache and re-synthesizes cues for every occurrence, vehicle and staff label plus the linking phrases. Individual synthesis failures are skipped.
// @Tags        cache
// @Success     204  {string}  string
// @Failure     500  {string}  string
// @Router      /api/cache/rebuild [post]
func (s *Server) handleRebuildCache(w http.ResponseWriter, r *http.Request) {
	if err := s.announcer.RebuildCache(r.Context()); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// @Summary  Clear the audio cache
// @Tags     cache
// @Success  204  {string}  string
// @Failure  500  {string}  string
// @Router   /api/cache [delete]
func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	if err := s.announcer.ClearCache(); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
