// Package middleware contains HTTP middleware for the match reservation API: Clerk token
// authentication with lazy user sync, role checks, and per-user rate limiting.
package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trentd187/match-reservations/internal/config"
	"github.com/trentd187/match-reservations/internal/models"
)

// errEmailTaken means the token's email already belongs to a different Clerk account.
var errEmailTaken = errors.New("email already linked to another account")

// Keys under which Auth stores the caller in c.Locals.
const (
	LocalUserID   = "userID"
	LocalUserRole = "userRole"
)

// Claims defines the data we expect inside a Clerk JWT payload.
// Subject is the Clerk user ID. The custom claims come from the Clerk JWT template:
//
//	"role":  "{{user.public_metadata.role}}"
//	"email": "{{user.primary_email_address}}"
//	"name":  "{{user.full_name}}"
//
// Without them, role defaults to "user" and email/name get placeholder values.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Auth returns a Fiber middleware handler that:
//  1. Reads the JWT from "Authorization: Bearer <token>", or from ?token= on WebSocket
//     upgrades where browsers cannot set headers
//  2. Parses it, verifying the HMAC signature with CLERK_SECRET_KEY outside development
//  3. Finds the matching user in our database (or creates one on first visit)
//  4. Stores the user's internal UUID and role in c.Locals for handlers
func Auth(cfg *config.Config, db *gorm.DB) fiber.Handler {
	parse := tokenParser(cfg)

	return func(c *fiber.Ctx) error {
		tokenStr, ok := bearerToken(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or invalid authorization header",
			})
		}

		claims, err := parse(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		clerkUserID := claims.Subject
		if clerkUserID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "token missing subject",
			})
		}

		user, err := syncUser(db, clerkUserID, claims)
		if errors.Is(err, errEmailTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": errEmailTaken.Error(),
			})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load user record",
			})
		}

		c.Locals(LocalUserID, user.ID.String())
		c.Locals(LocalUserRole, string(user.Role))
		return c.Next()
	}
}

// UserID returns the authenticated caller set by Auth.
func UserID(c *fiber.Ctx) (uuid.UUID, bool) {
	s, _ := c.Locals(LocalUserID).(string)
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(authHeader, "Bearer ") {
		tok := strings.TrimPrefix(authHeader, "Bearer ")
		return tok, tok != ""
	}
	if authHeader == "" && strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket") {
		tok := c.Query("token")
		return tok, tok != ""
	}
	return "", false
}

// tokenParser verifies signatures with the configured key. In development without a
// key, tokens are accepted unverified so a locally minted JWT is enough.
func tokenParser(cfg *config.Config) func(string) (*Claims, error) {
	if cfg.ClerkSecretKey == "" && cfg.IsDevelopment() {
		return func(tokenStr string) (*Claims, error) {
			claims := &Claims{}
			if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
				return nil, err
			}
			return claims, nil
		}
	}

	key := []byte(cfg.ClerkSecretKey)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	return func(tokenStr string) (*Claims, error) {
		if len(key) == 0 {
			return nil, errors.New("token verification key not configured")
		}
		claims := &Claims{}
		if _, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
			return key, nil
		}); err != nil {
			return nil, err
		}
		return claims, nil
	}
}

// syncUser is lazy user sync: the first authenticated request creates the user row, later
// ones look it up and pick up role changes made in Clerk.
func syncUser(db *gorm.DB, clerkUserID string, claims *Claims) (*models.User, error) {
	role := roleFromClaim(claims.Role)

	var user models.User
	err := db.Where("clerk_id = ?", clerkUserID).First(&user).Error
	if err == nil {
		if user.Role != role && claims.Role != "" {
			if err := db.Model(&user).Update("role", role).Error; err != nil {
				return nil, err
			}
			user.Role = role
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	email := claims.Email
	if email == "" {
		email = fmt.Sprintf("%s@clerk.local", clerkUserID)
	}
	name := claims.Name
	if name == "" {
		name = "Player"
	}

	user = models.User{
		ClerkID:     &clerkUserID,
		DisplayName: name,
		Email:       email,
		Role:        role,
	}
	if err := db.Create(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		// Either two first requests raced and the other one created the row, or the email
		// is already used by another Clerk account. The failed Create left an ID on user,
		// so look up into a fresh value.
		var existing models.User
		err := db.Where("clerk_id = ?", clerkUserID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errEmailTaken
		}
		if err != nil {
			return nil, err
		}
		return &existing, nil
	}
	return &user, nil
}

// roleFromClaim converts the raw role claim into a UserRole, defaulting to the least
// privileged role.
func roleFromClaim(s string) models.UserRole {
	if s == string(models.UserRoleAdmin) {
		return models.UserRoleAdmin
	}
	return models.UserRoleUser
}
