// Package proxy implements the HTTP relay server for gem-relay.
package proxy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/omarluq/gem-relay/internal/classifier"
	"github.com/omarluq/gem-relay/internal/config"
	"github.com/omarluq/gem-relay/internal/keypool"
	"github.com/omarluq/gem-relay/internal/registry"
)

// Pagination bounds for GET /api/keys.
const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

const poolNotEnabledMsg = "valid key pool not enabled"

// adminError matches the dashboard error shape.
type adminError struct {
	Detail string `json:"detail"`
}

func writeAdminError(w http.ResponseWriter, statusCode int, detail string) {
	writeJSON(w, statusCode, adminError{Detail: detail})
}

// actionResult is the outcome shape shared by the pool action endpoints.
type actionResult struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// adminPool is the slice of the key pool the admin API drives.
// *keypool.Pool satisfies it.
type adminPool interface {
	Maintain(ctx context.Context)
	Stats() keypool.Stats
	Clear() int
	ResetStats()
}

// AdminHandler serves the key management API. All endpoints sit behind
// AdminAuthMiddleware; none are reachable without an admin token.
type AdminHandler struct {
	cfgProvider config.RuntimeConfig
	reg         *registry.Registry
	pool        adminPool
	verifier    keypool.Verifier
	ec          *classifier.Classifier
	logger      *zerolog.Logger
}

// NewAdminHandler creates the admin API handler. pool must be nil when
// the valid key pool is disabled; the pool endpoints then answer 400.
func NewAdminHandler(
	cfgProvider config.RuntimeConfig,
	reg *registry.Registry,
	pool adminPool,
	verifier keypool.Verifier,
	ec *classifier.Classifier,
	logger *zerolog.Logger,
) *AdminHandler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AdminHandler{
		cfgProvider: cfgProvider,
		reg:         reg,
		pool:        pool,
		verifier:    verifier,
		ec:          ec,
		logger:      logger,
	}
}

// RegisterRoutes attaches the admin endpoints to mux, each wrapped by guard.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	register := func(pattern string, handler http.HandlerFunc) {
		mux.Handle(pattern, guard(handler))
	}

	register("GET /api/keys", h.handleListKeys)
	register("GET /api/keys/all", h.handleAllKeys)
	register("GET /api/keys/status", h.handleKeyStatus)
	register("POST /api/keys/pool/maintenance", h.handlePoolMaintenance)
	register("POST /api/keys/pool/clear", h.handlePoolClear)
	register("POST /api/keys/pool/stats/reset", h.handleStatsReset)
	register("DELETE /api/keys/{key}", h.handleDeleteKey)
	register("POST /api/keys/{key}/verify", h.handleVerifyKey)
}

func (h *AdminHandler) liveConfig() *config.Config {
	if h.cfgProvider == nil {
		return nil
	}
	return h.cfgProvider.Get()
}

type keysPage struct {
	Keys        map[string]int `json:"keys"`
	TotalItems  int            `json:"total_items"`
	TotalPages  int            `json:"total_pages"`
	CurrentPage int            `json:"current_page"`
}

// handleListKeys serves GET /api/keys with pagination, substring search,
// failure-count threshold, and validity filtering. Keys keep registry
// order so pages stay stable between calls.
func (h *AdminHandler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := parsePositiveInt(query.Get("page"), 1)
	limit := parsePositiveInt(query.Get("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	search := strings.ToLower(query.Get("search"))

	threshold := 0
	hasThreshold := false
	if raw := query.Get("fail_count_threshold"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			threshold = v
			hasThreshold = true
		}
	}

	var candidates []string
	switch query.Get("status") {
	case "valid":
		candidates = h.reg.ValidKeys()
	case "invalid":
		candidates = h.reg.InvalidKeys()
	default:
		candidates = append(h.reg.ValidKeys(), h.reg.InvalidKeys()...)
	}

	failCounts := h.reg.FailCounts()

	filtered := lo.Filter(candidates, func(credential string, _ int) bool {
		if search != "" && !strings.Contains(strings.ToLower(credential), search) {
			return false
		}
		if hasThreshold && failCounts[credential] < threshold {
			return false
		}
		return true
	})

	totalItems := len(filtered)
	totalPages := (totalItems + limit - 1) / limit

	start := min((page-1)*limit, totalItems)
	end := min(start+limit, totalItems)

	pageKeys := make(map[string]int, end-start)
	for _, credential := range filtered[start:end] {
		pageKeys[credential] = failCounts[credential]
	}

	writeJSON(w, http.StatusOK, keysPage{
		Keys:        pageKeys,
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		CurrentPage: page,
	})
}

func parsePositiveInt(raw string, fallback int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

type allKeys struct {
	ValidKeys   []string `json:"valid_keys"`
	InvalidKeys []string `json:"invalid_keys"`
	TotalCount  int      `json:"total_count"`
}

// handleAllKeys serves GET /api/keys/all for bulk operations.
func (h *AdminHandler) handleAllKeys(w http.ResponseWriter, _ *http.Request) {
	valid := h.reg.ValidKeys()
	invalid := h.reg.InvalidKeys()

	writeJSON(w, http.StatusOK, allKeys{
		ValidKeys:   valid,
		InvalidKeys: invalid,
		TotalCount:  len(valid) + len(invalid),
	})
}

type keysBreakdown struct {
	ValidKeys    map[string]int `json:"valid_keys"`
	InvalidKeys  map[string]int `json:"invalid_keys"`
	TotalKeys    int            `json:"total_keys"`
	ValidCount   int            `json:"valid_count"`
	InvalidCount int            `json:"invalid_count"`
}

type statusResponse struct {
	Keys        keysBreakdown  `json:"keys"`
	VertexKeys  []string       `json:"vertex_keys"`
	PoolStatus  *keypool.Stats `json:"pool_status"`
	PoolEnabled bool           `json:"pool_enabled"`
}

// handleKeyStatus serves GET /api/keys/status: the full registry
// breakdown plus pool statistics when the pool is running.
func (h *AdminHandler) handleKeyStatus(w http.ResponseWriter, _ *http.Request) {
	failCounts := h.reg.FailCounts()

	validKeys := make(map[string]int)
	for _, credential := range h.reg.ValidKeys() {
		validKeys[credential] = failCounts[credential]
	}
	invalidKeys := make(map[string]int)
	for _, credential := range h.reg.InvalidKeys() {
		invalidKeys[credential] = failCounts[credential]
	}

	var poolStatus *keypool.Stats
	if h.pool != nil {
		st := h.pool.Stats()
		poolStatus = &st
	}

	vertexKeys := []string{}
	poolEnabled := false
	if cfg := h.liveConfig(); cfg != nil {
		if len(cfg.Keys.VertexAPIKeys) > 0 {
			vertexKeys = cfg.Keys.VertexAPIKeys
		}
		poolEnabled = cfg.Pool.Enabled
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Keys: keysBreakdown{
			ValidKeys:    validKeys,
			InvalidKeys:  invalidKeys,
			TotalKeys:    len(validKeys) + len(invalidKeys),
			ValidCount:   len(validKeys),
			InvalidCount: len(invalidKeys),
		},
		VertexKeys:  vertexKeys,
		PoolStatus:  poolStatus,
		PoolEnabled: poolEnabled,
	})
}

type maintenanceSnapshot struct {
	Size        int     `json:"size"`
	Utilization float64 `json:"utilization"`
}

type maintenanceResult struct {
	Message string              `json:"message"`
	Before  maintenanceSnapshot `json:"before"`
	After   maintenanceSnapshot `json:"after"`
	Success bool                `json:"success"`
}

// handlePoolMaintenance serves POST /api/keys/pool/maintenance: one
// on-demand maintenance pass with before/after pool snapshots.
func (h *AdminHandler) handlePoolMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeJSON(w, http.StatusBadRequest, actionResult{
			Success: false,
			Message: poolNotEnabledMsg,
		})
		return
	}

	before := h.pool.Stats()

	h.pool.Maintain(r.Context())
	if err := r.Context().Err(); err != nil {
		h.logger.Error().Err(err).Msg("pool maintenance aborted")
		writeJSON(w, http.StatusInternalServerError, actionResult{
			Success: false,
			Message: "Maintenance failed: " + err.Error(),
		})
		return
	}

	after := h.pool.Stats()

	writeJSON(w, http.StatusOK, maintenanceResult{
		Success: true,
		Message: "Pool maintenance completed successfully",
		Before:  maintenanceSnapshot{Size: before.Size, Utilization: before.Utilization},
		After:   maintenanceSnapshot{Size: after.Size, Utilization: after.Utilization},
	})
}

type clearResult struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
	Success bool   `json:"success"`
}

// handlePoolClear serves POST /api/keys/pool/clear.
func (h *AdminHandler) handlePoolClear(w http.ResponseWriter, _ *http.Request) {
	if h.pool == nil {
		writeJSON(w, http.StatusBadRequest, actionResult{
			Success: false,
			Message: poolNotEnabledMsg,
		})
		return
	}

	removed := h.pool.Clear()

	writeJSON(w, http.StatusOK, clearResult{
		Success: true,
		Message: "Pool cleared",
		Removed: removed,
	})
}

// handleStatsReset serves POST /api/keys/pool/stats/reset.
func (h *AdminHandler) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	if h.pool == nil {
		writeJSON(w, http.StatusBadRequest, actionResult{
			Success: false,
			Message: poolNotEnabledMsg,
		})
		return
	}

	h.pool.ResetStats()

	writeJSON(w, http.StatusOK, actionResult{
		Success: true,
		Message: "Pool statistics reset",
	})
}

// handleDeleteKey serves DELETE /api/keys/{key}. Removal cascades to the
// pool through the registry's evictor hook.
func (h *AdminHandler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	credential := r.PathValue("key")

	if err := h.reg.Remove(credential); err != nil {
		if errors.Is(err, registry.ErrKeyNotFound) {
			writeAdminError(w, http.StatusNotFound, "Key not found")
			return
		}
		writeAdminError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, actionResult{
		Success: true,
		Message: "Key removed",
	})
}

type verifyResult struct {
	Message string `json:"message,omitempty"`
	Success bool   `json:"success"`
	Valid   bool   `json:"valid"`
}

// handleVerifyKey serves POST /api/keys/{key}/verify: one on-demand
// upstream verification. Failures run through the classifier with the
// configured test model, matching what pool verification would do.
func (h *AdminHandler) handleVerifyKey(w http.ResponseWriter, r *http.Request) {
	credential := r.PathValue("key")

	if _, known := h.reg.FailCounts()[credential]; !known {
		writeAdminError(w, http.StatusNotFound, "Key not found")
		return
	}

	testModel := keypool.DefaultTestModel
	if cfg := h.liveConfig(); cfg != nil {
		testModel = cfg.Pool.GetEffectiveTestModel()
	}

	if err := h.verifier.Verify(r.Context(), credential); err != nil {
		if h.ec != nil {
			h.ec.Handle(err, credential, testModel)
		}
		h.logger.Warn().
			Err(err).
			Str("key_prefix", registry.Prefix(credential)).
			Msg("admin key verification failed")
		writeJSON(w, http.StatusOK, verifyResult{
			Success: true,
			Valid:   false,
			Message: err.Error(),
		})
		return
	}

	h.reg.ResetFailure(credential)

	writeJSON(w, http.StatusOK, verifyResult{
		Success: true,
		Valid:   true,
	})
}
