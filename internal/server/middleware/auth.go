package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

// userIDFromClaims accepts a string or numeric "id" claim and falls back to
// the standard subject.
func userIDFromClaims(claims jwt.MapClaims) string {
	switch id := claims["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	}
	if sub, err := claims.GetSubject(); err == nil {
		return sub
	}
	return ""
}

func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c)
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		ac := c.(*AppContext)
		app := ac.App

		// Master API Key bypass
		if app.MasterAPIKey != "" && app.MasterUserID != "" && token == app.MasterAPIKey {
			ac.User = &AppUser{UserID: app.MasterUserID, Role: "admin"}
			return next(c)
		}

		if app.Keyfunc == nil {
			return unauthorized(c)
		}
		parsed, err := jwt.Parse(token, app.Keyfunc)
		if err != nil || !parsed.Valid {
			return unauthorized(c)
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c)
		}

		userID := userIDFromClaims(claims)
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid user ID"})
		}

		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		ac.User = &AppUser{UserID: userID, Role: role}
		return next(c)
	}
}
