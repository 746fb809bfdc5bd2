package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ctxUserClaims = "authgate_user_claims"

type claimsKey struct{}

// Claims is the decoded payload of a verified bearer token. It lives only
// for the duration of one request.
//
// The typed fields cover the attributes this service reads itself. Payload
// holds every attribute of the token, including ones the issuer added that
// have no field here.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`

	Payload map[string]any `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the full payload.
func (c *Claims) UnmarshalJSON(data []byte) error {
	type typed Claims
	var t typed
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	*c = Claims(t)
	c.Payload = payload
	return nil
}

// Get returns the raw value of any payload attribute.
func (c *Claims) Get(key string) (any, bool) {
	v, ok := c.Payload[key]
	return v, ok
}

// Identifier returns user_id, then the standard "sub" claim, then "id".
// It is empty when the token names no user.
func (c *Claims) Identifier() string {
	if c.UserID != "" {
		return c.UserID
	}
	if c.Subject != "" {
		return c.Subject
	}
	switch v := c.Payload["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// UserUUID parses Identifier as a UUID.
func (c *Claims) UserUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Identifier())
	if err != nil {
		return uuid.Nil, fmt.Errorf("user identifier %q is not a UUID: %w", c.Identifier(), err)
	}
	return id, nil
}

// ContextWithClaims returns a copy of ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext retrieves claims attached by the authenticator, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// ClaimsFromCtx retrieves the claims injected by the gin middleware.
// Returns nil if the request was not authenticated.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxUserClaims)
	claims, _ := v.(*Claims)
	if claims == nil && c.Request != nil {
		claims = ClaimsFromContext(c.Request.Context())
	}
	return claims
}
