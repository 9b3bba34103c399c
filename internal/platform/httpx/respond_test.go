package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("login: %w", ErrUnauthorized), http.StatusUnauthorized},
		{fmt.Errorf("csrf: %w", ErrForbidden), http.StatusForbidden},
		{ErrValidation, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrBadGateway, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())

		var pd ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pd))
		assert.Equal(t, tc.status, pd.Status)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("dsn=postgres://secret"))
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestProblemContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusTooManyRequests, "Too Many Requests", "slow down")
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"type":"about:blank"`)
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, DecodeJSON(req, &out))
	assert.Equal(t, "a@b.c", out.Email)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"} {"x":1}`))
	assert.Error(t, DecodeJSON(req, &out))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	assert.Error(t, DecodeJSON(req, &out))
}
