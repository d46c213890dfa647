package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/audit"
	"github.com/kasuganosora/partystash/catalog"
	"github.com/kasuganosora/partystash/currency"
	"github.com/kasuganosora/partystash/ledger"
	mw "github.com/kasuganosora/partystash/middleware"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stash"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Auditor records executed commands.
type Auditor interface {
	Record(entry audit.Entry)
}

// SessionSource hands out the open session of a party.
type SessionSource interface {
	Get(ctx context.Context, partyID int64) (*stash.Session, error)
}

// StashHandler serves the party stash commands.
type StashHandler struct {
	sessions SessionSource
	catalog  *catalog.Service
	log      *ledger.TxLog
	audit    Auditor
	logger   *zap.Logger
}

// NewStashHandler creates a StashHandler. auditor may be nil.
func NewStashHandler(sessions SessionSource, cat *catalog.Service, log *ledger.TxLog, auditor Auditor, logger *zap.Logger) *StashHandler {
	return &StashHandler{sessions: sessions, catalog: cat, log: log, audit: auditor, logger: logger}
}

// withSession runs fn on the party's session, retrying once if the session
// was reaped in between.
func (h *StashHandler) withSession(c *gin.Context, fn func(*stash.Session) error) error {
	partyID, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	for attempt := 0; ; attempt++ {
		s, err := h.sessions.Get(c.Request.Context(), partyID)
		if err != nil {
			return err
		}
		err = fn(s)
		if errors.Is(err, stash.ErrClosed) && attempt == 0 {
			continue
		}
		return err
	}
}

// command runs fn, records it in the audit log and answers with the fresh
// snapshot plus whatever fn returned.
func (h *StashHandler) command(c *gin.Context, action string, req interface{}, fn func(context.Context, *stash.Session) (interface{}, error)) {
	start := time.Now()
	var (
		result interface{}
		snap   stash.Snapshot
	)
	err := h.withSession(c, func(s *stash.Session) error {
		var err error
		result, err = fn(c.Request.Context(), s)
		snap = s.Snapshot()
		return err
	})
	h.record(c, action, req, result, err, start)
	if err != nil {
		fail(c, err)
		return
	}
	body := gin.H{"stash": snap}
	if result != nil {
		body["result"] = result
	}
	c.JSON(http.StatusOK, body)
}

func (h *StashHandler) record(c *gin.Context, action string, req, resp interface{}, err error, start time.Time) {
	if h.audit == nil {
		return
	}
	e := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     action,
		Request:    req,
		Response:   resp,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if claims := mw.GetClaims(c); claims != nil {
		party, char := claims.PartyID, claims.CharacterID
		e.PartyID, e.CharacterID, e.Role = &party, &char, claims.Role
	}
	if err != nil {
		e.Error = err.Error()
	}
	h.audit.Record(e)
}

// Get handles GET /api/parties/:id/stash.
func (h *StashHandler) Get(c *gin.Context) {
	var snap stash.Snapshot
	if err := h.withSession(c, func(s *stash.Session) error {
		snap = s.Snapshot()
		return nil
	}); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Logs handles GET /api/parties/:id/stash/logs?limit=.
func (h *StashHandler) Logs(c *gin.Context) {
	partyID, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		badRequest(c, "limit must be between 1 and 500")
		return
	}
	logs, err := h.log.Recent(c.Request.Context(), partyID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

type lootRequest struct {
	Items []struct {
		CatalogID int64 `json:"catalog_id"`
		Qty       int   `json:"qty"`
	} `json:"items"`
	Custom []struct {
		model.CatalogItem
		Qty int `json:"qty"`
	} `json:"custom"`
}

// AssignLoot handles POST /api/parties/:id/stash/loot. Custom items are
// added to the catalog before they are staged.
func (h *StashHandler) AssignLoot(c *gin.Context) {
	var req lootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	for _, it := range req.Items {
		if it.Qty <= 0 {
			badRequest(c, "quantity must be positive")
			return
		}
	}
	for _, cu := range req.Custom {
		if cu.Qty <= 0 {
			badRequest(c, "quantity must be positive")
			return
		}
	}
	ctx := c.Request.Context()
	var loot stash.Loot
	for _, it := range req.Items {
		item, err := h.catalog.Get(ctx, it.CatalogID)
		if err != nil {
			fail(c, err)
			return
		}
		loot.Lines = append(loot.Lines, stash.LootLine{Item: *item, Qty: it.Qty})
	}
	// Created once here: the command below may run twice if the session closes.
	for _, cu := range req.Custom {
		item, err := h.catalog.Create(ctx, cu.CatalogItem)
		if err != nil {
			fail(c, err)
			return
		}
		loot.Lines = append(loot.Lines, stash.LootLine{Item: *item, Qty: cu.Qty})
	}
	h.command(c, "assign_loot", req, func(ctx context.Context, s *stash.Session) (interface{}, error) {
		return nil, s.AssignLoot(ctx, loot)
	})
}

type toCharacterRequest struct {
	CharacterID int64             `json:"character_id"`
	Items       []stash.Selection `json:"items"`
}

// TransferToCharacter handles POST /api/parties/:id/stash/transfer/character.
// Without character_id the caller's own character receives the items.
func (h *StashHandler) TransferToCharacter(c *gin.Context) {
	var req toCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.CharacterID == 0 {
		req.CharacterID = mw.GetClaims(c).CharacterID
	}
	h.command(c, "transfer_to_character", req, func(ctx context.Context, s *stash.Session) (interface{}, error) {
		return nil, s.TransferToCharacter(ctx, req.CharacterID, req.Items)
	})
}

type toPartyRequest struct {
	CharacterID int64  `json:"character_id"`
	ItemID      string `json:"item_id"`
	Name        string `json:"name"`
	Qty         int    `json:"qty"`
}

// TransferToParty handles POST /api/parties/:id/stash/transfer/party.
func (h *StashHandler) TransferToParty(c *gin.Context) {
	var req toPartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !ownCharacter(c, &req.CharacterID) {
		return
	}
	h.command(c, "transfer_to_party", req, func(ctx context.Context, s *stash.Session) (interface{}, error) {
		return nil, s.TransferToParty(ctx, req.CharacterID, req.ItemID, req.Name, req.Qty)
	})
}

type moneyRequest struct {
	CharacterID  int64  `json:"character_id"`
	Denomination string `json:"denomination" binding:"required"`
	Amount       int64  `json:"amount"`
}

// TransferMoney handles POST /api/parties/:id/stash/transfer/money.
func (h *StashHandler) TransferMoney(c *gin.Context) {
	var req moneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, ok := currency.ParseDenomination(req.Denomination)
	if !ok {
		badRequest(c, "unknown denomination")
		return
	}
	if !ownCharacter(c, &req.CharacterID) {
		return
	}
	h.command(c, "transfer_money_to_party", req, func(ctx context.Context, s *stash.Session) (interface{}, error) {
		return nil, s.TransferMoneyToParty(ctx, req.CharacterID, d, req.Amount)
	})
}

// ownCharacter defaults id to the caller's character and stops players
// from emptying somebody else's bag. The DM may act for anyone.
func ownCharacter(c *gin.Context, id *int64) bool {
	claims := mw.GetClaims(c)
	if *id == 0 {
		*id = claims.CharacterID
	}
	if !claims.IsDM() && *id != claims.CharacterID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not your character"})
		return false
	}
	return true
}

type entriesRequest struct {
	EntryIDs []int64 `json:"entry_ids"`
}

type quoteResponse struct {
	Entries     []stash.ValuedEntry `json:"entries"`
	MarketValue decimal.Decimal     `json:"market_value"`
	Suggested   suggestion          `json:"suggested"`
}

type suggestion struct {
	Value decimal.Decimal `json:"value"`
	Unit  string          `json:"unit"`
}

// Quote handles POST /api/parties/:id/stash/sell/quote.
func (h *StashHandler) Quote(c *gin.Context) {
	var req entriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var v stash.Valuation
	err := h.withSession(c, func(s *stash.Session) error {
		var err error
		v, err = s.Quote(c.Request.Context(), req.EntryIDs)
		return err
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteResponse{
		Entries:     v.Entries,
		MarketValue: v.MarketValue,
		Suggested:   suggestion{Value: v.Suggested.Value, Unit: v.Suggested.UnitName()},
	})
}

type sellRequest struct {
	EntryIDs   []int64         `json:"entry_ids"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Unit       string          `json:"unit"`
	Mode       string          `json:"mode"`
}

// Sell handles POST /api/parties/:id/stash/sell. A zero final_price accepts
// the suggested price.
func (h *StashHandler) Sell(c *gin.Context) {
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	negotiator := stash.FixedPrice{Price: req.FinalPrice, Unit: currency.Gold}
	if req.Unit != "" {
		d, ok := currency.ParseDenomination(req.Unit)
		if !ok {
			badRequest(c, "unknown unit")
			return
		}
		negotiator.Unit = d
	}
	h.command(c, "sell", req, func(ctx context.Context, s *stash.Session) (interface{}, error) {
		sale, err := s.SellSelected(ctx, req.EntryIDs, negotiator, req.Mode)
		if err != nil {
			return nil, err
		}
		return gin.H{"price": sale.Price, "unit": sale.UnitName, "market_value": sale.Valuation.MarketValue}, nil
	})
}

// Delete handles POST /api/parties/:id/stash/delete.
func (h *StashHandler) Delete(c *gin.Context) {
	var req entriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	h.command(c, "delete", req, func(ctx context.Context, s *stash.Session) (interface{}, error) {
		return nil, s.DeleteSelected(ctx, req.EntryIDs)
	})
}

// Consolidate handles POST /api/parties/:id/stash/consolidate.
func (h *StashHandler) Consolidate(c *gin.Context) {
	h.command(c, "consolidate_currency", nil, func(ctx context.Context, s *stash.Session) (interface{}, error) {
		return nil, s.ConsolidateCurrency(ctx)
	})
}
