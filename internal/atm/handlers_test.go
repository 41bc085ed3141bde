package atm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/atmguard/internal/fraud"
	"github.com/mbd888/atmguard/internal/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := store.NewMemoryStore()
	registry := NewRegistry(30 * time.Second)
	svc := NewService(s, registry, NewGate(s), fraud.NewEngine(s, fraud.DefaultEngineConfig()), fraud.NewLimits(s, fraud.DefaultLimitConfig()), 3)

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/v1"))
	return r, s
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHandlerWithdrawFlow(t *testing.T) {
	r, s := newTestRouter(t)
	require.NoError(t, s.CreateCard(context.Background(), &store.Card{
		CardID: "card-1", PIN: "1234", Balance: 50000,
	}))

	w, resp := doJSON(t, r, http.MethodPost, "/v1/cards/card-1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CARD_INSERTED", resp["state"])

	w, resp = doJSON(t, r, http.MethodPost, "/v1/cards/card-1/pin", `{"pin":"1234"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PIN Accepted", resp["message"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/cards/card-1/transaction", `{"type":"withdraw"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/v1/cards/card-1/amount", `{"amount":5000}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = doJSON(t, r, http.MethodPost, "/v1/cards/card-1/complete", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Take your cash", resp["message"])
	receipt := resp["receipt"].(map[string]any)
	assert.Equal(t, float64(45000), receipt["balance"])
	assert.Equal(t, "COMPLETED", receipt["status"])

	w, resp = doJSON(t, r, http.MethodGet, "/v1/cards/card-1/balance", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(45000), resp["balance"])

	w, resp = doJSON(t, r, http.MethodGet, "/v1/cards/card-1/statement", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["statement"], 1)
}

func TestHandlerWrongPIN(t *testing.T) {
	r, s := newTestRouter(t)
	require.NoError(t, s.CreateCard(context.Background(), &store.Card{
		CardID: "card-1", PIN: "1234", Balance: 50000,
	}))

	w, resp := doJSON(t, r, http.MethodPost, "/v1/cards/card-1/pin", `{"pin":"0000"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, float64(1), resp["attempts"])
	assert.Equal(t, float64(3), resp["max"])
}

func TestHandlerBlockedCard(t *testing.T) {
	r, s := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCard(ctx, &store.Card{
		CardID: "card-1", PIN: "1234", Balance: 50000, Status: store.CardBlocked,
	}))

	w, resp := doJSON(t, r, http.MethodPost, "/v1/cards/card-1/pin", `{"pin":"1234"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "blocked", resp["status"])
}

func TestHandlerUnknownCard(t *testing.T) {
	r, _ := newTestRouter(t)

	w, resp := doJSON(t, r, http.MethodGet, "/v1/cards/ghost/balance", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Card not found", resp["message"])
}

func TestHandlerInvalidStateMapsToBadRequest(t *testing.T) {
	r, s := newTestRouter(t)
	require.NoError(t, s.CreateCard(context.Background(), &store.Card{
		CardID: "card-1", PIN: "1234", Balance: 50000,
	}))

	// Amount entry straight after insertion is out of sequence.
	w, resp := doJSON(t, r, http.MethodPost, "/v1/cards/card-1/amount", `{"amount":100}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", resp["status"])
}
