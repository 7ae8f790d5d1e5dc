package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("bad date: %w", ErrValidation):  http.StatusBadRequest,
		fmt.Errorf("other store: %w", ErrForbidden): http.StatusForbidden,
		fmt.Errorf("export: %w", ErrGone):           http.StatusGone,
		ErrNotFound:                                 http.StatusNotFound,
		errors.New("boom"):                          http.StatusInternalServerError,
	}
	for err, status := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, err)
		require.Equal(t, status, rr.Code, err.Error())
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, status, body.Status)
		if status == http.StatusInternalServerError {
			require.Empty(t, body.Detail)
		} else {
			require.Equal(t, err.Error(), body.Detail)
		}
	}
}

type fieldErr struct{ field string }

func (e fieldErr) Error() string        { return "invalid " + e.field }
func (e fieldErr) Unwrap() error        { return ErrValidation }
func (e fieldErr) InvalidField() string { return e.field }

func TestRespondErrorTypesProblems(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("query: %w", fieldErr{field: "date_from"}))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "date_from", body.Field)
	require.Equal(t, problemTypeBase+"validation", body.Type)

	rr = httptest.NewRecorder()
	RespondError(rr, errors.New("db down"))
	body = ProblemDetail{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "about:blank", body.Type)
	require.Empty(t, body.Field)

	rr = httptest.NewRecorder()
	Problem(rr, http.StatusTooManyRequests, "Too Many Requests", "slow down")
	body = ProblemDetail{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, problemTypeBase+"rate-limited", body.Type)
}
