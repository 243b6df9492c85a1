// Package handlers implements the HTTP handlers for the AgentForge service
// registry. Handlers decode requests, pull the caller identity from the
// request context, invoke the registry core, and map error kinds to HTTP
// statuses. All authorization decisions live in the core.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentforge/registry/internal/api/middleware"
	"github.com/agentforge/registry/internal/registry"
	"github.com/agentforge/registry/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Registry *registry.Registry
	Version  string
}

// New creates a Handlers instance.
func New(reg *registry.Registry, version string) *Handlers {
	return &Handlers{Registry: reg, Version: version}
}

// ── Services ─────────────────────────────────────────────────

type createServiceRequest struct {
	Owner      models.AccountID `json:"owner"`
	ConfigHash models.Hash      `json:"config_hash"`
	Threshold  uint32           `json:"threshold"`
}

func (h *Handlers) CreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	opID := uuid.New().String()

	serviceID, err := h.Registry.Create(caller, req.Owner, req.ConfigHash, req.Threshold)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	log.Info().Str("op_id", opID).Uint64("service_id", serviceID).
		Str("caller", caller.String()).Msg("service created")
	respondJSON(w, http.StatusCreated, map[string]uint64{"service_id": serviceID})
}

func (h *Handlers) GetService(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	svc, err := h.Registry.Service(serviceID)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, svc)
}

type updateServiceRequest struct {
	Owner      models.AccountID `json:"owner"`
	ConfigHash models.Hash      `json:"config_hash"`
	Threshold  uint32           `json:"threshold"`
}

func (h *Handlers) UpdateService(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	var req updateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.Update(caller, serviceID, req.Owner, req.ConfigHash, req.Threshold); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ── Roles ────────────────────────────────────────────────────

type setRolesRequest struct {
	AgentIDs []uint32             `json:"agent_ids"`
	Params   []models.AgentParams `json:"params"`
}

func (h *Handlers) SetRoles(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	var req setRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.SetRoles(caller, serviceID, req.AgentIDs, req.Params); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "roles updated"})
}

func (h *Handlers) GetRoles(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	table, err := h.Registry.Roles(serviceID)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	if table.Entries == nil {
		table.Entries = []models.RoleEntry{}
	}
	respondJSON(w, http.StatusOK, table)
}

func (h *Handlers) AddRole(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	agentID, ok := agentIDParam(w, r)
	if !ok {
		return
	}
	var params models.AgentParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.AddRole(caller, serviceID, agentID, params); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "role added"})
}

func (h *Handlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	agentID, ok := agentIDParam(w, r)
	if !ok {
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.RemoveRole(caller, serviceID, agentID); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "role removed"})
}

// ── Lifecycle ────────────────────────────────────────────────

type activateRequest struct {
	Owner models.AccountID `json:"owner"`
}

func (h *Handlers) ActivateRegistration(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.ActivateRegistration(caller, serviceID, req.Owner); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "registration active"})
}

type registerAgentsRequest struct {
	Operator  models.AccountID   `json:"operator"`
	Instances []models.AccountID `json:"instances"`
	AgentIDs  []uint32           `json:"agent_ids"`
}

func (h *Handlers) RegisterAgents(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	var req registerAgentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.RegisterAgents(caller, req.Operator, serviceID, req.Instances, req.AgentIDs); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "agents registered"})
}

func (h *Handlers) GetInstances(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	idx, err := h.Registry.Instances(serviceID)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	if idx.Instances == nil {
		idx.Instances = []models.AccountID{}
	}
	respondJSON(w, http.StatusOK, idx)
}

type deployRequest struct {
	Implementation models.AccountID `json:"implementation"`
	Payload        []byte           `json:"payload,omitempty"`
}

func (h *Handlers) Deploy(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	msID, err := h.Registry.Deploy(caller, serviceID, req.Implementation, req.Payload)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"multisig": msID.String()})
}

func (h *Handlers) Terminate(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.Terminate(caller, serviceID); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

func (h *Handlers) Unbond(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.Unbond(caller, serviceID); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unbonded"})
}

type slashRequest struct {
	Instances []models.AccountID `json:"instances"`
	Amounts   []uint64           `json:"amounts"`
}

func (h *Handlers) Slash(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	var req slashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.Slash(caller, serviceID, req.Instances, req.Amounts); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "slashed"})
}

func (h *Handlers) GetOperatorBond(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := serviceIDParam(w, r)
	if !ok {
		return
	}
	operator, err := models.ParseAccountID(chi.URLParam(r, "operator"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid operator id")
		return
	}
	bond, err := h.Registry.OperatorBondOf(serviceID, operator)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]uint64{"bond": bond})
}

// ── Registry-level operations ────────────────────────────────

func (h *Handlers) GetRegistry(w http.ResponseWriter, r *http.Request) {
	root, err := h.Registry.Root()
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, root)
}

func (h *Handlers) Drain(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	amount, err := h.Registry.Drain(caller)
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]uint64{"drained": amount})
}

type permissionRequest struct {
	Allow bool `json:"allow"`
}

func (h *Handlers) SetMultisigPermission(w http.ResponseWriter, r *http.Request) {
	implID, err := models.ParseAccountID(chi.URLParam(r, "multisigId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid multisig id")
		return
	}
	var req permissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.SetMultisigPermission(caller, implID, req.Allow); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "permission updated"})
}

func (h *Handlers) ListMultisigs(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Registry.Whitelisted()
	if err != nil {
		respondRegistryError(w, err)
		return
	}
	if wl.Multisigs == nil {
		wl.Multisigs = []models.AccountID{}
	}
	respondJSON(w, http.StatusOK, wl)
}

type rotateRequest struct {
	Account models.AccountID `json:"account"`
}

func (h *Handlers) ChangeOwner(w http.ResponseWriter, r *http.Request) {
	h.rotate(w, r, h.Registry.ChangeOwner)
}

func (h *Handlers) ChangeManager(w http.ResponseWriter, r *http.Request) {
	h.rotate(w, r, h.Registry.ChangeManager)
}

func (h *Handlers) ChangeDrainer(w http.ResponseWriter, r *http.Request) {
	h.rotate(w, r, h.Registry.ChangeDrainer)
}

func (h *Handlers) rotate(w http.ResponseWriter, r *http.Request, apply func(caller, account models.AccountID) error) {
	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := apply(caller, req.Account); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type baseURIRequest struct {
	BaseURI string `json:"base_uri"`
}

func (h *Handlers) SetBaseURI(w http.ResponseWriter, r *http.Request) {
	var req baseURIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller := middleware.GetCaller(r.Context())
	if err := h.Registry.SetBaseURI(caller, req.BaseURI); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// ── Accounts ─────────────────────────────────────────────────

type fundRequest struct {
	Amount uint64 `json:"amount"`
}

// FundAccount is the bootstrap faucet: it credits an account so it can pay
// rent and stake bonds. Exposed for development and test deployments.
func (h *Handlers) FundAccount(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseAccountID(chi.URLParam(r, "accountId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Registry.Fund(id, req.Amount); err != nil {
		respondRegistryError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]uint64{"balance": h.Registry.Balance(id)})
}

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseAccountID(chi.URLParam(r, "accountId"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	respondJSON(w, http.StatusOK, map[string]uint64{"balance": h.Registry.Balance(id)})
}

// ── Helpers ──────────────────────────────────────────────────

func serviceIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "serviceId"), 10, 64)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "invalid service id")
		return 0, false
	}
	return id, true
}

func agentIDParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "agentId"), 10, 32)
	if err != nil || id == 0 {
		respondError(w, http.StatusBadRequest, "invalid agent id")
		return 0, false
	}
	return uint32(id), true
}

// respondRegistryError maps a registry error kind to an HTTP status.
func respondRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch registry.KindOf(err) {
	case registry.KindAccessControl:
		status = http.StatusForbidden
	case registry.KindStateViolation:
		status = http.StatusConflict
	case registry.KindValidation:
		status = http.StatusBadRequest
	case registry.KindArithmetic:
		status = http.StatusUnprocessableEntity
	case registry.KindFunds:
		status = http.StatusPaymentRequired
	case registry.KindDerivationMismatch:
		status = http.StatusInternalServerError
	case registry.KindExistence:
		status = http.StatusNotFound
	case registry.KindReentrancy:
		status = http.StatusLocked
	case registry.KindConfiguration:
		status = http.StatusPreconditionFailed
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
