package rest

import (
	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/partystash/middleware"
)

// Handlers groups everything Register mounts.
type Handlers struct {
	Stash     *StashHandler
	Catalog   *CatalogHandler
	Character *CharacterHandler
	Events    gin.HandlerFunc
}

// Register mounts the API under api. auth authenticates every route.
func Register(api *gin.RouterGroup, h Handlers, auth gin.HandlerFunc) {
	api.Use(auth)

	party := api.Group("/parties/:id", mw.RequireParty())
	{
		party.GET("/stash", h.Stash.Get)
		party.GET("/stash/logs", h.Stash.Logs)
		party.POST("/stash/loot", mw.RequireDM(), h.Stash.AssignLoot)
		party.POST("/stash/transfer/character", h.Stash.TransferToCharacter)
		party.POST("/stash/transfer/party", h.Stash.TransferToParty)
		party.POST("/stash/transfer/money", h.Stash.TransferMoney)
		party.POST("/stash/sell/quote", h.Stash.Quote)
		party.POST("/stash/sell", h.Stash.Sell)
		party.POST("/stash/delete", h.Stash.Delete)
		party.POST("/stash/consolidate", h.Stash.Consolidate)
		if h.Events != nil {
			party.GET("/events", h.Events)
		}
	}

	api.GET("/characters/:id", h.Character.Get)
	api.GET("/catalog", h.Catalog.List)
	api.POST("/catalog", mw.RequireDM(), h.Catalog.Create)
}
