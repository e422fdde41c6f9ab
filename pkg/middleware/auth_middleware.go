package middleware

import (
	"net/http"
	"strings"

	"github.com/animagenius/animagenius-api/pkg/db"
	"github.com/animagenius/animagenius-api/pkg/db/queries"
	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/animagenius/animagenius-api/pkg/utils"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Gin context keys.
const (
	UserClaimsContextKey  = "userClaims"
	CurrentUserContextKey = "currentUser"
	AdminUserContextKey   = "adminUser"
)

// AuthMiddleware is a Gin middleware to authenticate requests using JWT.
// The user row is loaded so handlers see current quotas.
func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			log.Debug("AuthMiddleware: Missing or malformed Authorization header.")
			utils.AbortWithError(c, http.StatusUnauthorized, "Authentication required", nil)
			return
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			log.Debugf("AuthMiddleware: Invalid or expired JWT token: %v", err)
			utils.AbortWithError(c, http.StatusUnauthorized, "Invalid or expired token", err.Error())
			return
		}

		user, err := queries.FindUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			log.Errorf("AuthMiddleware: failed to load user %s: %v", claims.UserID.String(), err)
			utils.AbortWithError(c, http.StatusInternalServerError, "Internal server error", nil)
			return
		}
		if user == nil {
			log.Debugf("AuthMiddleware: user %s no longer exists", claims.UserID.String())
			utils.AbortWithError(c, http.StatusUnauthorized, "Authentication required", nil)
			return
		}

		c.Set(UserClaimsContextKey, claims)
		c.Set(CurrentUserContextKey, user)
		c.Next()
	}
}

// AdminMiddleware accepts an admin API key or a user JWT whose email belongs
// to an admin.
func AdminMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tokenString, ok := bearerToken(c)
		if !ok {
			utils.AbortWithError(c, http.StatusForbidden, "Admin access required", nil)
			return
		}

		admin, err := queries.FindAdminByAPIKey(ctx, tokenString)
		if err != nil {
			log.Errorf("AdminMiddleware: API key lookup failed: %v", err)
			utils.AbortWithError(c, http.StatusInternalServerError, "Internal server error", nil)
			return
		}
		if admin != nil {
			if err := queries.TouchAdminLogin(ctx, admin.ID); err != nil {
				log.Warnf("AdminMiddleware: %v", err)
			}
		} else {
			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				log.Debugf("AdminMiddleware: token is neither an API key nor a valid JWT: %v", err)
				utils.AbortWithError(c, http.StatusForbidden, "Admin access required", nil)
				return
			}
			admin, err = queries.FindAdminByEmail(ctx, claims.Email)
			if err != nil {
				log.Errorf("AdminMiddleware: admin lookup for %s failed: %v", claims.Email, err)
				utils.AbortWithError(c, http.StatusInternalServerError, "Internal server error", nil)
				return
			}
			if admin == nil {
				log.Warnf("AdminMiddleware: %s is not an admin", claims.Email)
				utils.AbortWithError(c, http.StatusForbidden, "Admin access required", nil)
				return
			}
			c.Set(UserClaimsContextKey, claims)
		}

		c.Set(AdminUserContextKey, admin)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// GetUserClaimsFromContext extracts user claims from Gin context.
func GetUserClaimsFromContext(c *gin.Context) (*services.Claims, bool) {
	claims, ok := c.Get(UserClaimsContextKey)
	if !ok {
		return nil, false
	}
	userClaims, ok := claims.(*services.Claims)
	return userClaims, ok
}

// CurrentUser returns the user loaded by AuthMiddleware.
func CurrentUser(c *gin.Context) (*db.User, bool) {
	v, ok := c.Get(CurrentUserContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*db.User)
	return user, ok
}

// CurrentAdmin returns the admin resolved by AdminMiddleware.
func CurrentAdmin(c *gin.Context) (*db.AdminUser, bool) {
	v, ok := c.Get(AdminUserContextKey)
	if !ok {
		return nil, false
	}
	admin, ok := v.(*db.AdminUser)
	return admin, ok
}
