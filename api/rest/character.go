package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/ledger"
	mw "github.com/kasuganosora/partystash/middleware"
)

// CharacterHandler serves character records.
type CharacterHandler struct {
	ledger *ledger.Service
}

// NewCharacterHandler creates a CharacterHandler.
func NewCharacterHandler(l *ledger.Service) *CharacterHandler {
	return &CharacterHandler{ledger: l}
}

// Get handles GET /api/characters/:id. Characters of other parties are
// reported as missing.
func (h *CharacterHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	char, err := h.ledger.Character(c.Request.Context(), id)
	if err == nil && char.PartyID != mw.GetClaims(c).PartyID {
		err = ledger.ErrCharacterNotFound
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, char)
}
