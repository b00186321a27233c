package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const claimsContextKey = "operator_claims"

// JWTMiddleware authenticates triage requests with an HMAC-signed
// bearer token. The subject claim is stored on the request context for
// handlers that need the operator identity.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			}

			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
			}

			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				c.Set(claimsContextKey, claims)
			}
			return next(c)
		}
	}
}

// OperatorSubject extracts the authenticated operator's subject claim,
// or "" when the route is unauthenticated.
func OperatorSubject(c echo.Context) string {
	claims, ok := c.Get(claimsContextKey).(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
