// Package api exposes the user directory over HTTP behind the bearer-token gate.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/authgate/internal/identity"
	"github.com/jmerrifield20/authgate/internal/users"
	"go.uber.org/zap"
)

// userSvc is the subset of users.Service used by UserHandler.
type userSvc interface {
	GetByID(ctx context.Context, id uuid.UUID) (*users.User, error)
	FindByEmail(ctx context.Context, email string) (*users.User, error)
	FindByUsername(ctx context.Context, username string) (*users.User, error)
	ListRecent(ctx context.Context, limit int) ([]*users.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd users.ProfileUpdate) (*users.User, error)
}

// UserHandler serves user lookups and profile edits for authenticated callers.
type UserHandler struct {
	users  userSvc
	auth   gin.HandlerFunc
	logger *zap.Logger
}

// NewUserHandler creates a UserHandler. auth guards every route it registers.
func NewUserHandler(svc userSvc, auth gin.HandlerFunc, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: svc, auth: auth, logger: logger}
}

// Register registers UserHandler routes on the given router group.
func (h *UserHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/users", h.auth)
	g.GET("", h.ListUsers)
	g.GET("/me", h.GetMe)
	g.PATCH("/me", h.UpdateMe)
	g.GET("/by-username/:username", h.GetByUsername)
	g.GET("/by-email/:email", h.GetByEmail)
}

// GetMe handles GET /users/me and returns the caller's public view.
func (h *UserHandler) GetMe(c *gin.Context) {
	u, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, u.Public())
}

// UpdateMe handles PATCH /users/me.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var upd users.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		recordProfileUpdate("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	current, ok := h.currentUser(c)
	if !ok {
		return
	}

	u, err := h.users.UpdateProfile(c.Request.Context(), current.ID, upd)
	if err != nil {
		var verr *users.ValidationError
		switch {
		case errors.As(err, &verr):
			recordProfileUpdate("invalid")
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"message": "validation failed",
				"errors":  verr.Fields,
			})
		case errors.Is(err, users.ErrDuplicateEmail):
			recordProfileUpdate("conflict")
			c.JSON(http.StatusConflict, gin.H{"message": "email already registered"})
		case errors.Is(err, users.ErrDuplicateUsername):
			recordProfileUpdate("conflict")
			c.JSON(http.StatusConflict, gin.H{"message": "username already taken"})
		case errors.Is(err, users.ErrStale):
			recordProfileUpdate("conflict")
			c.JSON(http.StatusConflict, gin.H{"message": "profile was modified concurrently, retry"})
		case errors.Is(err, users.ErrNotFound):
			recordProfileUpdate("not_found")
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
		default:
			recordProfileUpdate("error")
			h.logger.Error("update profile", zap.String("user_id", current.ID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to update profile"})
		}
		return
	}

	recordProfileUpdate("ok")
	c.JSON(http.StatusOK, u.Public())
}

// ListUsers handles GET /users?limit=N, newest users first.
func (h *UserHandler) ListUsers(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "limit must be an integer"})
		return
	}

	list, err := h.users.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to list users"})
		return
	}

	views := users.PublicViews(list)
	c.JSON(http.StatusOK, gin.H{"users": views, "count": len(views)})
}

// GetByUsername handles GET /users/by-username/:username.
func (h *UserHandler) GetByUsername(c *gin.Context) {
	u, err := h.users.FindByUsername(c.Request.Context(), c.Param("username"))
	h.respondLookup(c, u, err)
}

// GetByEmail handles GET /users/by-email/:email.
func (h *UserHandler) GetByEmail(c *gin.Context) {
	u, err := h.users.FindByEmail(c.Request.Context(), c.Param("email"))
	h.respondLookup(c, u, err)
}

func (h *UserHandler) respondLookup(c *gin.Context, u *users.User, err error) {
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return
		}
		h.logger.Error("look up user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to look up user"})
		return
	}
	c.JSON(http.StatusOK, u.Public())
}

// currentUser resolves the record behind the verified claims. It writes the
// error response itself and reports false when the caller should stop.
func (h *UserHandler) currentUser(c *gin.Context) (*users.User, bool) {
	claims := identity.ClaimsFromCtx(c)
	if claims == nil {
		// Only reachable if the route was registered without the gate.
		h.logger.Error("resolve current user: no claims on request", zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to look up user"})
		return nil, false
	}

	ctx := c.Request.Context()
	var (
		u   *users.User
		err error
	)
	if id, parseErr := claims.UserUUID(); parseErr == nil {
		u, err = h.users.GetByID(ctx, id)
	} else if claims.Email != "" {
		u, err = h.users.FindByEmail(ctx, claims.Email)
	} else {
		err = users.ErrNotFound
	}

	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return nil, false
		}
		h.logger.Error("resolve current user", zap.String("subject", claims.Identifier()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to look up user"})
		return nil, false
	}
	return u, true
}
