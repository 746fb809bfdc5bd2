package identity

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Client-facing rejection messages.
const (
	MsgHeaderMissing = "Authorization header not found, you must be logged in"
	MsgTokenMissing  = "Token not found, you must be logged in"
	MsgTokenInvalid  = "Invalid or expired token"
)

const bearerPrefix = "Bearer "

// Outcome labels the terminal state of one authentication decision.
type Outcome string

const (
	OutcomeVerified      Outcome = "verified"
	OutcomeHeaderMissing Outcome = "header_missing"
	OutcomeTokenEmpty    Outcome = "token_empty"
	OutcomeTokenInvalid  Outcome = "token_invalid"
)

// ObserveFunc is an optional callback invoked once per decision.
type ObserveFunc func(outcome Outcome)

// Rejection is the response sent when a request is not authenticated.
type Rejection struct {
	Status  int
	Message string
	Outcome Outcome
}

// Authenticator gates requests on a valid bearer token.
type Authenticator struct {
	verifier TokenVerifier
	observe  ObserveFunc
	logger   *zap.Logger
}

// NewAuthenticator creates an Authenticator backed by v.
func NewAuthenticator(v TokenVerifier, logger *zap.Logger) *Authenticator {
	return &Authenticator{verifier: v, logger: logger}
}

// SetObserver configures the per-decision callback (metrics).
func (a *Authenticator) SetObserver(fn ObserveFunc) {
	a.observe = fn
}

// Decide runs the header → token → verification steps for one Authorization
// header value. Exactly one of the results is non-nil.
func (a *Authenticator) Decide(header string) (*Claims, *Rejection) {
	if header == "" {
		return nil, a.reject(http.StatusUnauthorized, MsgHeaderMissing, OutcomeHeaderMissing)
	}

	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		return nil, a.reject(http.StatusUnauthorized, MsgTokenMissing, OutcomeTokenEmpty)
	}

	claims, err := a.verifier.Verify(token)
	if err != nil {
		// The specific reason stays in the server log.
		a.logger.Warn("token verification failed", zap.Error(err))
		return nil, a.reject(http.StatusForbidden, MsgTokenInvalid, OutcomeTokenInvalid)
	}

	if a.observe != nil {
		a.observe(OutcomeVerified)
	}
	return claims, nil
}

func (a *Authenticator) reject(status int, msg string, outcome Outcome) *Rejection {
	if a.observe != nil {
		a.observe(outcome)
	}
	return &Rejection{Status: status, Message: msg, Outcome: outcome}
}

// Gin returns a Gin middleware that enforces a valid bearer token.
//
// On success it injects the *Claims into both the gin context and the
// request's context.Context, then calls the next handler.
func (a *Authenticator) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, rej := a.Decide(c.GetHeader("Authorization"))
		if rej != nil {
			c.AbortWithStatusJSON(rej.Status, gin.H{"message": rej.Message})
			return
		}

		c.Set(ctxUserClaims, claims)
		c.Request = c.Request.WithContext(ContextWithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// Wrap guards a plain net/http handler with the same gate.
func (a *Authenticator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, rej := a.Decide(r.Header.Get("Authorization"))
		if rej != nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(rej.Status)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": rej.Message})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// Authenticate returns a Gin middleware that enforces a valid bearer token.
func Authenticate(v TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return NewAuthenticator(v, logger).Gin()
}

// Middleware is the net/http counterpart of Authenticate.
func Middleware(v TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return NewAuthenticator(v, logger).Wrap
}
