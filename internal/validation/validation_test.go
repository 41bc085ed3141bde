package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidCardID(t *testing.T) {
	valid := []string{"card001", "CARD-42", "a"}
	for _, id := range valid {
		if !IsValidCardID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "card 001", "card/../etc", "card;drop", string(make([]byte, 65))}
	for _, id := range invalid {
		if IsValidCardID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestSanitizeLocation(t *testing.T) {
	cases := map[string]string{
		"NYC":                      "NYC",
		"  LON  ":                  "LON",
		"":                         "UNKNOWN",
		"a\x00b":                   "ab",
		strings.Repeat("x", 101):   "UNKNOWN",
	}
	for in, want := range cases {
		if got := SanitizeLocation(in); got != want {
			t.Errorf("SanitizeLocation(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCardIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CardIDMiddleware())
	r.GET("/cards/:cardId", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cards/card001", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("valid id rejected: %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cards/bad%3Bid", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid id accepted: %d", w.Code)
	}
}
