package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/catalog"
	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/stash"
)

// statusOf maps a command error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, stash.ErrValidation), errors.Is(err, catalog.ErrNameRequired):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrStale):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrCharacterNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrBusy), errors.Is(err, stash.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Internal errors are not echoed.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
