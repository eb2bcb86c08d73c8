package middleware

import (
	"fmt"
	"strings"
	"time"

	"assist_worker/pkg/apperr"
	"assist_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// maxClockSkew bounds how far in the future an iat claim may lie.
const maxClockSkew = time.Minute

// JWTAuth verifies HMAC-signed bearer tokens. The "sub" claim is stored as
// the request subject.
func JWTAuth(secret string) fiber.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(maxClockSkew),
	)

	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c.Get("Authorization"))
		if !ok {
			return apperr.Unauthorized("missing bearer token")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token")
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			return apperr.InvalidToken("missing subject in token")
		}

		c.Locals("subject", subject)
		c.Locals("claims", claims)
		return c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
