package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestAllowBurstThenThrottle(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 3, CleanupInterval: time.Minute})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("card:card-1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if l.Allow("card:card-1") {
		t.Fatal("request beyond burst should be throttled")
	}
	// Another key has its own bucket.
	if !l.Allow("card:card-2") {
		t.Fatal("distinct key should be allowed")
	}
}

func TestTokensRefill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow("k") {
		t.Fatal("first request should pass")
	}
	if l.Allow("k") {
		t.Fatal("bucket should be empty")
	}
	// 100 tokens/sec: 50ms refills well past one token.
	time.Sleep(50 * time.Millisecond)
	if !l.Allow("k") {
		t.Fatal("bucket should have refilled")
	}
}

func TestMiddlewareKeysByCard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/cards/:cardId/pin", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(card string) int {
		req := httptest.NewRequest(http.MethodPost, "/cards/"+card+"/pin", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := hit("card-1"); code != http.StatusOK {
		t.Fatalf("first hit: %d", code)
	}
	if code := hit("card-1"); code != http.StatusTooManyRequests {
		t.Fatalf("second hit on same card should throttle, got %d", code)
	}
	if code := hit("card-2"); code != http.StatusOK {
		t.Fatalf("other card should pass, got %d", code)
	}
}
