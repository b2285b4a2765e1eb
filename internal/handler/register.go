package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sos-guardian/internal/auth"
	"sos-guardian/internal/identity"
	"sos-guardian/internal/middleware"
	"sos-guardian/internal/model"
)

type RegisterHandler struct {
	Registry        *identity.Registry
	TokenConfig     auth.TokenConfig
	RegisterLimiter *middleware.RateLimiter
}

type registerBody struct {
	Username       string `json:"username"`
	DeviceID       string `json:"device_id"`
	IdentityKeyPub string `json:"identity_key_pub"`
	KeyType        string `json:"key_type"`
}

func (h *RegisterHandler) Register(c *gin.Context) {
	if h.RegisterLimiter != nil && !h.RegisterLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.DeviceID == "" || body.IdentityKeyPub == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing device_id or identity_key_pub"})
		return
	}

	keyType := model.KeyType(body.KeyType)
	if keyType == "" {
		keyType = model.KeyTypeRaw
	}

	ident, err := h.Registry.Register(c.Request.Context(), body.Username, body.DeviceID, body.IdentityKeyPub, keyType)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Username already registered"})
		return
	case errors.Is(err, identity.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidPublicKey),
		errors.Is(err, auth.ErrUnsupportedKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}

	token, err := auth.CreateToken(ident.ID, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        ident.ID,
		"username":  ident.Username,
		"device_id": ident.DeviceID,
		"token":     token,
	})
}
