// Package api is the HTTP management surface of the ledger daemon.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-userman/internal/auth"
	"github.com/celerix-dev/celerix-userman/internal/engine"
	"github.com/celerix-dev/celerix-userman/internal/gateway"
	"github.com/celerix-dev/celerix-userman/pkg/ledger"
	"github.com/celerix-dev/celerix-userman/pkg/schema"
)

const identityKey = "identity"

type Handler struct {
	Gateway *gateway.Gateway
	Tokens  *auth.TokenManager
}

// Identity resolves the caller from the Authorization header. A request
// without a token proceeds as the anonymous identity; a bad token is a 401.
func (h *Handler) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := auth.BearerToken(c.GetHeader("Authorization"))
		if errors.Is(err, auth.ErrMissingToken) {
			c.Set(identityKey, auth.Anonymous)
			c.Next()
			return
		}
		if err == nil && h.Tokens != nil {
			var claims *auth.Claims
			claims, err = h.Tokens.Parse(raw)
			if err == nil {
				c.Set(identityKey, ledger.Identity(claims))
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "invalid token"})
	}
}

// Register mounts the routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.Use(h.Identity())
	g.GET("/channels", h.Channels)

	ch := g.Group("/channels/:channel")
	{
		ch.POST("/init", h.InitLedger)
		ch.GET("/users", h.GetAllUsers)
		ch.POST("/users", h.AddNewUser)
		ch.GET("/users/:id", h.GetUser)
		ch.GET("/users/:id/exists", h.UserExists)
		ch.GET("/users/:id/permission", h.GetUserPermission)
		ch.PUT("/users/:id/permission", h.UpdateUser)
		ch.DELETE("/users/:id", h.DeleteUser)
		ch.GET("/users/:id/access/:action", h.CheckAccess)
		ch.GET("/audit", h.AuditTrail)
	}
}

func identity(c *gin.Context) ledger.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(ledger.Identity); ok {
			return id
		}
	}
	return auth.Anonymous
}

func (h *Handler) invoke(c *gin.Context, fn string, args ...string) (string, bool) {
	out, err := h.Gateway.Invoke(c.Request.Context(), c.Param("channel"), identity(c), fn, args)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return out, true
}

// writeRecord sends contract JSON as-is so key order stays canonical.
func writeRecord(c *gin.Context, status int, body string) {
	c.Data(status, "application/json; charset=utf-8", []byte(body))
}

func writeError(c *gin.Context, err error) {
	var domain *schema.Error
	if errors.As(err, &domain) {
		c.JSON(statusFor(domain.Code), gin.H{"code": domain.Code, "error": domain.Message})
		return
	}
	if errors.Is(err, engine.ErrInvalidChannel) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_CHANNEL", "error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": err.Error()})
}

func statusFor(code schema.ErrorCode) int {
	switch code {
	case schema.CodeUserNotFound:
		return http.StatusNotFound
	case schema.CodeUserAlreadyExists:
		return http.StatusConflict
	case schema.CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) Channels(c *gin.Context) {
	channels, err := h.Gateway.Channels()
	if err != nil {
		writeError(c, err)
		return
	}
	if channels == nil {
		channels = []string{}
	}
	c.JSON(http.StatusOK, channels)
}

func (h *Handler) InitLedger(c *gin.Context) {
	if out, ok := h.invoke(c, "InitLedger"); ok {
		writeRecord(c, http.StatusCreated, out)
	}
}

func (h *Handler) AddNewUser(c *gin.Context) {
	var input struct {
		UserID      string `json:"userID" binding:"required"`
		Name        string `json:"name"`
		Permission  string `json:"permission"`
		Position    string `json:"position"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}

	out, ok := h.invoke(c, "AddNewUser", input.UserID, input.Name, input.Permission, input.Position, input.Description)
	if ok {
		writeRecord(c, http.StatusCreated, out)
	}
}

func (h *Handler) GetUser(c *gin.Context) {
	if out, ok := h.invoke(c, "GetUser", c.Param("id")); ok {
		writeRecord(c, http.StatusOK, out)
	}
}

func (h *Handler) GetAllUsers(c *gin.Context) {
	if out, ok := h.invoke(c, "GetAllUsers"); ok {
		writeRecord(c, http.StatusOK, out)
	}
}

func (h *Handler) UpdateUser(c *gin.Context) {
	// An empty permission is a valid code; only a missing key is rejected.
	var input struct {
		Permission *string `json:"permission"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	if input.Permission == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": "permission is required"})
		return
	}

	if out, ok := h.invoke(c, "UpdateUser", c.Param("id"), *input.Permission); ok {
		writeRecord(c, http.StatusOK, out)
	}
}

func (h *Handler) DeleteUser(c *gin.Context) {
	if _, ok := h.invoke(c, "DeleteUser", c.Param("id")); ok {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

func (h *Handler) UserExists(c *gin.Context) {
	out, ok := h.invoke(c, "UserExists", c.Param("id"))
	if !ok {
		return
	}
	exists, _ := strconv.ParseBool(out)
	c.JSON(http.StatusOK, gin.H{"userID": c.Param("id"), "exists": exists})
}

func (h *Handler) GetUserPermission(c *gin.Context) {
	if out, ok := h.invoke(c, "GetUserPermission", c.Param("id")); ok {
		c.JSON(http.StatusOK, gin.H{"userID": c.Param("id"), "permission": out})
	}
}

func (h *Handler) AuditTrail(c *gin.Context) {
	entries, err := h.Gateway.AuditTrail(c.Param("channel"))
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []schema.AuditLog{}
	}
	c.JSON(http.StatusOK, entries)
}

// CheckAccess interprets the user's permission code for one action. A denial
// is a 403 like any other PERMISSION_DENIED.
func (h *Handler) CheckAccess(c *gin.Context) {
	action, err := schema.ParseAction(c.Param("action"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "error": err.Error()})
		return
	}
	userID := c.Param("id")
	if err := h.Gateway.CheckAccess(c.Request.Context(), c.Param("channel"), identity(c), userID, action); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userID": userID, "action": action, "allowed": true})
}
