package httpserver

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Clark-Hu/tierlist/internal/domain"
)

func TestRoundToOneDecimal(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"zero", 0, 0},
		{"round-up", 3.75, 3.8},
		{"round-down", 2.74, 2.7},
		{"exact", 4.5, 4.5},
		{"large", 199.94, 199.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundToOneDecimal(tt.value)
			if math.Abs(got-tt.want) > 0.0001 {
				t.Fatalf("roundToOneDecimal(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestRespondServiceError(t *testing.T) {
	srv := New(testConfig(), nil, nil, nil, quietLogger())

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", domain.ErrInvalidTier), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{domain.ErrInvalidOutcome, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{domain.ErrDegenerateAggregate, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{fmt.Errorf("title x: %w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrConcurrentModification, http.StatusConflict, "CONFLICT"},
		{domain.ErrAlreadyRanked, http.StatusConflict, "CONFLICT"},
		{domain.ErrSessionClosed, http.StatusGone, "GONE"},
		{errors.New("db exploded"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			srv.respondServiceError(rec, req, tt.err, "do thing")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[errorResponse](t, rec).Code)
		})
	}
}

func TestParseOutcome(t *testing.T) {
	for _, raw := range []string{"preferCandidate", " preferPivot ", "equivalent"} {
		_, err := parseOutcome(raw)
		assert.NoError(t, err, raw)
	}
	for _, raw := range []string{"", "PreferCandidate", "tie"} {
		_, err := parseOutcome(raw)
		assert.ErrorIs(t, err, errValidation, raw)
	}
}
