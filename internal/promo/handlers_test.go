package promo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/slot-reservations/internal/promo"
)

func TestValidateHandler(t *testing.T) {
	h := &promo.Handler{Calc: promo.MustNewCalculator(promo.DefaultRules()), Logger: zerolog.Nop()}

	cases := []struct {
		name     string
		body     string
		status   int
		valid    bool
		discount float64
	}{
		{"percent", `{"code":"SAVE10","subtotal":1000}`, http.StatusOK, true, 100},
		{"flat clamps", `{"code":"flat100","subtotal":50}`, http.StatusOK, true, 50},
		{"unknown", `{"code":"NOPE","subtotal":1000}`, http.StatusOK, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Validate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/promo/validate", strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.valid, body["valid"])
			if tc.valid {
				require.Equal(t, tc.discount, body["discount"])
			} else {
				require.NotContains(t, body, "discount")
			}
		})
	}
}

func TestValidateHandlerRejectsBadPayload(t *testing.T) {
	h := &promo.Handler{Calc: promo.MustNewCalculator(promo.DefaultRules()), Logger: zerolog.Nop()}
	for _, body := range []string{`{`, `{"subtotal":10}`, `{"code":"SAVE10","subtotal":-5}`} {
		rec := httptest.NewRecorder()
		h.Validate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/promo/validate", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	}
}
