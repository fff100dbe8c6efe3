package middlewares

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sales_ledger/config"
	"github.com/mmdatafocus/sales_ledger/utils"
)

// Session is what the login service stores under "Session:<token>".
type Session struct {
	UserId     int    `json:"user_id"`
	UserName   string `json:"user_name"`
	LocationId int    `json:"location_id"`
}

type SessionLookup func(token string) (*Session, bool, error)

func RedisSessionLookup(token string) (*Session, bool, error) {
	var s Session
	exists, err := config.GetRedisObject("Session:"+token, &s)
	if err != nil || !exists {
		return nil, exists, err
	}
	return &s, true, nil
}

// SessionMiddleware resolves the token header into the request context.
// Requests without a token pass through anonymously.
func SessionMiddleware(lookup SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		session, exists, err := lookup(token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(withSession(c.Request.Context(), session))
		c.Next()
	}
}

func withSession(ctx context.Context, s *Session) context.Context {
	ctx = utils.SetUserIdInContext(ctx, s.UserId)
	ctx = utils.SetUserNameInContext(ctx, s.UserName)
	if s.LocationId > 0 {
		ctx = utils.SetLocationIdInContext(ctx, s.LocationId)
	}
	return ctx
}
