package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"nft_marketplace/internal/chain"
	"nft_marketplace/internal/config"
)

const callerKey = "caller"

// authenticator issues and verifies HS256 bearer tokens whose subject is an
// account address.
type authenticator struct {
	secret []byte
	ttl    time.Duration
}

func newAuthenticator(cfg *config.Config) *authenticator {
	ttl := cfg.Server.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &authenticator{secret: []byte(cfg.Server.JWTSecret), ttl: ttl}
}

func (a *authenticator) issue(subject chain.Address) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (a *authenticator) verify(tokenStr string) (chain.Address, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return chain.ZeroAddress, err
	}
	return chain.ParseAddress(claims.Subject)
}

// middleware rejects requests without a valid bearer token and stores the
// caller address in the context.
func (a *authenticator) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no bearer token"})
			return
		}
		caller, err := a.verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) chain.Address {
	caller, _ := c.MustGet(callerKey).(chain.Address)
	return caller
}

// handleIssueToken signs a token for one of the named accounts. It is only
// routed on development chains, where account keys are not secret.
func (h *Handler) handleIssueToken(c *gin.Context) {
	var req struct {
		Account string `json:"account" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	addr, ok := h.deployment.Node.Account(req.Account)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	token, expires, err := h.auth.issue(addr)
	if err != nil {
		h.logger.Error("failed to sign token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "address": addr, "expires_at": expires.UTC()})
}
