package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bearer(t *testing.T, c Claims) string {
	t.Helper()
	tok, err := GenerateToken(c, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func newPartyRouter() *gin.Engine {
	r := gin.New()
	g := r.Group("/parties/:id", Auth(testSecret), RequireParty())
	g.GET("/stash", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"character_id": GetClaims(c).CharacterID})
	})
	g.POST("/loot", RequireDM(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_RejectsMissingOrBadToken(t *testing.T) {
	r := newPartyRouter()
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/parties/1/stash", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/parties/1/stash", "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/parties/1/stash", "Bearer nope").Code)
}

func TestAuth_SetsClaims(t *testing.T) {
	r := newPartyRouter()
	w := do(r, http.MethodGet, "/parties/1/stash", bearer(t, player(9, 1)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"character_id":9}`, w.Body.String())
}

func TestRequireParty(t *testing.T) {
	r := newPartyRouter()
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/parties/2/stash", bearer(t, player(9, 1))).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/parties/abc/stash", bearer(t, player(9, 1))).Code)
}

func TestRequireDM(t *testing.T) {
	r := newPartyRouter()
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/parties/1/loot", bearer(t, player(9, 1))).Code)
	dm := Claims{CharacterID: 0, PartyID: 1, Role: RoleDM}
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/parties/1/loot", bearer(t, dm)).Code)
}

func TestGetClaims_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetClaims(c))
}

func TestAuth_QueryTokenOnGetOnly(t *testing.T) {
	r := newPartyRouter()
	tok, err := GenerateToken(player(9, 1), testSecret, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/parties/1/stash?token="+tok, "").Code)
	dm, err := GenerateToken(Claims{PartyID: 1, Role: RoleDM}, testSecret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/parties/1/loot?token="+dm, "").Code)
}
