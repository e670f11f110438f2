package httpx_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timberline-erp/timberline/internal/platform/httpx"
	"github.com/timberline-erp/timberline/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", shared.ErrNotFound, http.StatusNotFound},
		{"invalid quantity", shared.ErrInvalidQuantity, http.StatusBadRequest},
		{"insufficient stock", shared.ErrInsufficientStock, http.StatusConflict},
		{"lock busy", shared.ErrLockBusy, http.StatusConflict},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			httpx.RespondError(rec, fmt.Errorf("wrapped: %w", tc.err))
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRespondErrorLockBusySuggestsRetry(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.RespondError(rec, fmt.Errorf("sale 7: %w", shared.ErrLockBusy))
	require.Equal(t, http.StatusConflict, rec.Code)

	var pd httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pd))
	require.Equal(t, "Locked", pd.Title)
	require.Contains(t, pd.Detail, "retry")
}
