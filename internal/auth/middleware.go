package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"yacs/pkg/types"
)

// ContextKeySession holds the authorized types.SessionInfo
const ContextKeySession = "session"

// Authorizer validates a nickname/token pair
type Authorizer interface {
	Authorize(nickname, token string) (types.SessionInfo, error)
}

// Guard authenticates API requests against the session registry
type Guard struct {
	sessions Authorizer
}

// NewGuard creates a request guard
func NewGuard(sessions Authorizer) *Guard {
	return &Guard{sessions: sessions}
}

// ParseAuthorization splits "Bearer <nick> <token>"
func ParseAuthorization(header string) (string, string, error) {
	if header == "" {
		return "", "", ErrMissingCredentials
	}
	fields := strings.Fields(header)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "Bearer") {
		return "", "", ErrMalformedHeader
	}
	return fields[1], fields[2], nil
}

// Check authenticates the request and returns the caller's session
func (g *Guard) Check(c echo.Context) (types.SessionInfo, error) {
	nickname, token, err := ParseAuthorization(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return types.SessionInfo{}, err
	}
	return g.sessions.Authorize(nickname, token)
}

// CheckAdmin authenticates the request and requires the admin role
func (g *Guard) CheckAdmin(c echo.Context) (types.SessionInfo, error) {
	info, err := g.Check(c)
	if err != nil {
		return info, err
	}
	if info.Role != types.RoleAdmin {
		return info, ErrNotAdmin
	}
	return info, nil
}

// RequireSession rejects unauthenticated requests with 401
func (g *Guard) RequireSession() echo.MiddlewareFunc {
	return g.require(g.Check)
}

// RequireAdmin rejects non-admin requests with 401
func (g *Guard) RequireAdmin() echo.MiddlewareFunc {
	return g.require(g.CheckAdmin)
}

func (g *Guard) require(check func(echo.Context) (types.SessionInfo, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			info, err := check(c)
			if err != nil {
				message := "invalid or expired session"
				if errors.Is(err, ErrNotAdmin) || errors.Is(err, ErrMissingCredentials) || errors.Is(err, ErrMalformedHeader) {
					message = err.Error()
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": message})
			}

			c.Set(ContextKeySession, info)
			return next(c)
		}
	}
}

// SessionFrom returns the session stored by the guard
func SessionFrom(c echo.Context) (types.SessionInfo, bool) {
	info, ok := c.Get(ContextKeySession).(types.SessionInfo)
	return info, ok
}
