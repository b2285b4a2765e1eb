package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sos-guardian/internal/auth"
	"sos-guardian/internal/identity"
	"sos-guardian/internal/model"
)

// AuthHandler re-issues tokens for identities that registered an ed25519
// key, by verifying a signature over a caller-chosen challenge.
type AuthHandler struct {
	Registry    *identity.Registry
	TokenConfig auth.TokenConfig
}

type authBody struct {
	Username  string `json:"username"`
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

func (h *AuthHandler) Auth(c *gin.Context) {
	var body authBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ident, err := h.Registry.Lookup(c.Request.Context(), body.Username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
		return
	}
	if ident.KeyType != model.KeyTypeEd25519 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Identity key does not support signature auth"})
		return
	}

	if err := auth.VerifySignature(ident.PublicKey, body.Challenge, body.Signature); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := auth.CreateToken(ident.ID, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}
