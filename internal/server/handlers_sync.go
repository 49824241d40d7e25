package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/autosync"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/entries"
	"github.com/MarcoPoloResearchLab/fueltrack/internal/syncer"
	"github.com/gin-gonic/gin"
)

type signInRequestPayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	IDToken     string `json:"id_token"`
	Email       string `json:"email"`
}

func (h *httpHandler) handleAuthState(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.State())
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	signIn := auth.SignInRequest{
		AccessToken: request.AccessToken,
		IDToken:     request.IDToken,
		Email:       request.Email,
	}
	if request.ExpiresIn > 0 {
		signIn.Expiry = h.clock().Add(time.Duration(request.ExpiresIn) * time.Second)
	}
	state, err := h.session.SignIn(c.Request.Context(), signIn)
	if err != nil {
		h.respondError(c, "auth.sign_in", err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	if err := h.session.SignOut(c.Request.Context()); err != nil {
		h.respondError(c, "auth.sign_out", err)
		return
	}
	c.JSON(http.StatusOK, h.session.State())
}

type syncStatusPayload struct {
	SignedIn   bool       `json:"signed_in"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	Pending    int        `json:"pending"`
	Failed     int        `json:"failed"`
	Stranded   int        `json:"stranded"`
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	ctx := c.Request.Context()
	response := syncStatusPayload{SignedIn: h.session.State().SignedIn}

	lastSync, ok, err := h.prefs.LastSyncAt(ctx)
	if err != nil {
		h.respondError(c, "sync.status", err)
		return
	}
	if ok {
		response.LastSyncAt = &lastSync
	}

	listed, err := h.entries.List(ctx, entries.Filter{
		Statuses: []entries.SyncStatus{entries.StatusPending, entries.StatusError, entries.StatusSyncing},
	})
	if err != nil {
		h.respondError(c, "sync.status", err)
		return
	}
	for _, entry := range listed {
		switch entry.SyncStatus {
		case entries.StatusPending:
			response.Pending++
		case entries.StatusError:
			response.Failed++
		case entries.StatusSyncing:
			response.Stranded++
		}
	}
	c.JSON(http.StatusOK, response)
}

type pushResponsePayload struct {
	syncer.PushResult
	Shared bool `json:"shared"`
}

func (h *httpHandler) handlePush(c *gin.Context) {
	result, shared, err := h.pusher.Trigger(c.Request.Context(), autosync.ReasonManual)
	if err != nil {
		h.respondError(c, "sync.push", err)
		return
	}
	c.JSON(http.StatusOK, pushResponsePayload{PushResult: result, Shared: shared})
}

type restoreResponsePayload struct {
	syncer.RestoreResult
	Merged int `json:"merged"`
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	result, err := h.restorer.Restore(c.Request.Context())
	if err != nil {
		h.respondError(c, "sync.restore", err)
		return
	}
	c.JSON(http.StatusOK, restoreResponsePayload{RestoreResult: result, Merged: result.Merged()})
}
