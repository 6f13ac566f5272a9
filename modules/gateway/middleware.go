package gateway

import (
	"errors"
	"strings"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"

	"github.com/example/helpdesk-realtime/domain/helpdesk"
	"github.com/example/helpdesk-realtime/modules/auth"
)

const localsIdentity = "identity"

// bearerToken returns the credential from the Authorization header or, for
// browsers opening a websocket, the token query parameter.
func bearerToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

// authMiddleware rejects requests without a valid credential and stores the
// verified identity in the request locals.
func authMiddleware(authenticator auth.AuthPort, logger types.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Missing bearer token",
			})
		}

		identity, err := authenticator.Authenticate(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, auth.ErrAuthentication) {
				return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
					Error:   "unauthorized",
					Message: strings.TrimPrefix(err.Error(), auth.ErrAuthentication.Error()+": "),
				})
			}
			logger.Error("Authentication unavailable", "path", c.Path(), "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
				Error:   "auth_unavailable",
				Message: "Authentication is temporarily unavailable",
			})
		}

		c.Locals(localsIdentity, identity)
		return c.Next()
	}
}

// identityFrom returns the identity stored by authMiddleware.
func identityFrom(c *fiber.Ctx) helpdesk.Identity {
	identity, _ := c.Locals(localsIdentity).(helpdesk.Identity)
	return identity
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

// loggerMiddleware returns a Fiber middleware for request logging.
func loggerMiddleware(logger types.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip logging for WebSocket upgrade requests
		if c.Get("Upgrade") == "websocket" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		logger.Debug("HTTP request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start))
		return err
	}
}
