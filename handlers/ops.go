// Package handlers serves the operator HTTP API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cdahabbo/rolesync/internal/models"
	"github.com/cdahabbo/rolesync/internal/policy"
	"github.com/cdahabbo/rolesync/internal/roles"
	"github.com/cdahabbo/rolesync/internal/rolesync"
	"github.com/cdahabbo/rolesync/internal/sessions"
	"github.com/cdahabbo/rolesync/pkg/logger"
	"github.com/cdahabbo/rolesync/pkg/middleware"
)

type Profiles interface {
	Get(ctx context.Context, userID string) (*models.VerifiedProfile, error)
	List(ctx context.Context) ([]models.VerifiedProfile, error)
}

type Unverifier interface {
	Unverify(ctx context.Context, userID string) (bool, error)
}

type Syncer interface {
	RunOnce(ctx context.Context) (*rolesync.Summary, error)
	SyncMember(ctx context.Context, userID string, mode roles.Mode, trigger rolesync.Trigger) (*rolesync.Outcome, error)
}

type PolicyReloader interface {
	Reload() (*policy.Table, error)
}

type SessionLister interface {
	List(ctx context.Context) ([]*sessions.Session, error)
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (string, error)
}

type Revoker interface {
	Revoke(ctx context.Context, jti string, exp time.Time) error
}

// OpsDeps wires the API to the running bot. Snapshots and Revoker may be nil.
type OpsDeps struct {
	Profiles  Profiles
	Verify    Unverifier
	Sync      Syncer
	Policy    PolicyReloader
	Sessions  SessionLister
	Snapshots Snapshotter
	Revoker   Revoker
}

// OpsHandler holds dependencies
type OpsHandler struct {
	deps OpsDeps
	// base outlives single requests; manual passes run on it.
	base context.Context

	mu      sync.Mutex
	running bool
	last    *passStatus
}

type passStatus struct {
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	Summary    *rolesync.Summary `json:"summary,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func NewOpsHandler(base context.Context, deps OpsDeps) *OpsHandler {
	return &OpsHandler{deps: deps, base: base}
}

// Register routes under rg; callers attach auth and rate limiting to rg.
func (h *OpsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/profiles", h.ListProfiles)
	rg.GET("/profiles/:id", h.GetProfile)
	rg.DELETE("/profiles/:id", h.DeleteProfile)
	rg.GET("/sync", h.SyncStatus)
	rg.POST("/sync", h.StartSync)
	rg.POST("/sync/:id", h.SyncUser)
	rg.POST("/policy/reload", h.ReloadPolicy)
	rg.GET("/sessions", h.ListSessions)
	rg.POST("/snapshots", h.TakeSnapshot)
	rg.POST("/tokens/revoke", h.RevokeToken)
}

func (h *OpsHandler) ListProfiles(c *gin.Context) {
	list, err := h.deps.Profiles.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": list, "count": len(list)})
}

func (h *OpsHandler) GetProfile(c *gin.Context) {
	p, err := h.deps.Profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not verified"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteProfile is the HTTP form of the unverify command.
func (h *OpsHandler) DeleteProfile(c *gin.Context) {
	id := c.Param("id")
	removed, err := h.deps.Verify.Unverify(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "not verified"})
		return
	}
	logger.Infof("ops: %s unverified user %s", middleware.Subject(c), id)
	c.JSON(http.StatusOK, gin.H{"userId": id, "removed": true})
}

func (h *OpsHandler) SyncStatus(c *gin.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"running": h.running, "last": h.last})
}

// StartSync runs a full pass in the background and returns immediately.
func (h *OpsHandler) StartSync(c *gin.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": rolesync.ErrPassInProgress.Error()})
		return
	}
	h.running = true
	st := &passStatus{StartedAt: time.Now().UTC()}
	h.last = st
	h.mu.Unlock()

	logger.Infof("ops: %s started a manual sync pass", middleware.Subject(c))
	go func() {
		sum, err := h.deps.Sync.RunOnce(h.base)
		done := time.Now().UTC()

		h.mu.Lock()
		defer h.mu.Unlock()
		h.running = false
		st.FinishedAt = &done
		st.Summary = sum
		if err != nil {
			st.Error = err.Error()
			logger.Warnf("ops: manual sync pass failed: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "startedAt": st.StartedAt})
}

func (h *OpsHandler) SyncUser(c *gin.Context) {
	out, err := h.deps.Sync.SyncMember(c.Request.Context(), c.Param("id"), roles.ModeFull, rolesync.TriggerManual)
	if err != nil {
		c.JSON(syncStatusCode(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcomeJSON(out))
}

func syncStatusCode(err error) int {
	switch {
	case errors.Is(err, rolesync.ErrNotVerified), errors.Is(err, rolesync.ErrMemberNotFound):
		return http.StatusNotFound
	case errors.Is(err, rolesync.ErrGuildUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, rolesync.ErrLookup):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func outcomeJSON(out *rolesync.Outcome) gin.H {
	failed := make([]gin.H, 0, len(out.Result.Failed))
	for _, f := range out.Result.Failed {
		failed = append(failed, gin.H{"roleId": f.RoleID, "action": f.Action, "error": f.Err.Error()})
	}
	return gin.H{
		"userId":  out.UserID,
		"habbo":   out.Habbo,
		"added":   nonNil(out.Result.Added),
		"removed": nonNil(out.Result.Removed),
		"failed":  failed,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (h *OpsHandler) ReloadPolicy(c *gin.Context) {
	tbl, err := h.deps.Policy.Reload()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	counts := map[string]int{}
	for _, cat := range tbl.Categories() {
		counts[string(cat)] = len(tbl.EntriesFor(cat))
	}
	logger.Infof("ops: %s reloaded the role policy (%d entries)", middleware.Subject(c), tbl.Len())
	c.JSON(http.StatusOK, gin.H{"entries": tbl.Len(), "categories": counts})
}

func (h *OpsHandler) ListSessions(c *gin.Context) {
	list, err := h.deps.Sessions.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*sessions.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
}

func (h *OpsHandler) TakeSnapshot(c *gin.Context) {
	if h.deps.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "object storage not configured"})
		return
	}
	key, err := h.deps.Snapshots.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": key})
}

// RevokeToken revokes the token that authenticated this request.
func (h *OpsHandler) RevokeToken(c *gin.Context) {
	if h.deps.Revoker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token revocation not configured"})
		return
	}
	claims, _ := c.Get(middleware.ClaimsKey)
	cm, _ := claims.(map[string]interface{})
	jti, _ := cm["jti"].(string)
	exp, _ := cm["exp"].(float64)
	if jti == "" || exp == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token has no jti/exp"})
		return
	}
	if err := h.deps.Revoker.Revoke(c.Request.Context(), jti, time.Unix(int64(exp), 0)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": jti})
}
