package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/apperr"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, apperr.IsValidation(err))
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

type signupBody struct {
	CompanyEmail string `json:"company_email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8"`
	Method       string `json:"method" validate:"omitempty,oneof=MANUAL STRIPE"`
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "valid",
			body: `{"company_email": "ops@acme.test", "password": "hunter2hunter2"}`,
		},
		{
			name:    "missing and short fields",
			body:    `{"password": "short"}`,
			wantErr: "company_email is required; password must be at least 8",
		},
		{
			name:    "bad enum",
			body:    `{"company_email": "ops@acme.test", "password": "hunter2hunter2", "method": "CASH"}`,
			wantErr: "method must be one of [MANUAL STRIPE]",
		},
		{
			name:    "bad email",
			body:    `{"company_email": "nope", "password": "hunter2hunter2"}`,
			wantErr: "company_email must be a valid email address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/tenants", bytes.NewBufferString(tt.body))
			var dest signupBody

			err := DecodeAndValidate(req, &dest)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name        string
		vars        map[string]string
		expectError bool
		expected    int64
	}{
		{name: "valid", vars: map[string]string{"id": "9223372036854775807"}, expected: 9223372036854775807},
		{name: "missing", vars: map[string]string{}, expectError: true},
		{name: "not a number", vars: map[string]string{"id": "abc"}, expectError: true},
		{name: "zero", vars: map[string]string{"id": "0"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), tt.vars)

			val, err := ParsePathInt64(req, "id")

			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, apperr.IsValidation(err))
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, val)
			}
		})
	}
}

func TestParsePathInt64OrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), map[string]string{"id": "x"})

	_, ok := ParsePathInt64OrError(w, req, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"VALIDATION_ERROR"`)
}

func TestParseQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=20&flag=true&tenant_id=4&bad=x", nil)

	limit, err := ParseQueryInt(req, "limit", 50)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)

	def, err := ParseQueryInt(req, "offset", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, def)

	_, err = ParseQueryInt(req, "bad", 0)
	assert.Error(t, err)

	flag, err := ParseQueryBool(req, "flag", false)
	require.NoError(t, err)
	assert.True(t, flag)

	_, err = ParseQueryBool(req, "bad", false)
	assert.True(t, apperr.IsValidation(err))

	id, err := ParseQueryInt64(req, "tenant_id")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, int64(4), *id)

	missing, err := ParseQueryInt64(req, "user_id")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, "fallback", ParseQueryString(req, "status", "fallback"))
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage(httptest.NewRequest("GET", "/x?offset=10", nil), 25)
	require.NoError(t, err)
	assert.Equal(t, Page{Limit: 25, Offset: 10}, page)

	_, err = ParsePage(httptest.NewRequest("GET", "/x?limit=0", nil), 25)
	assert.True(t, apperr.IsValidation(err))

	_, err = ParsePage(httptest.NewRequest("GET", "/x?offset=-1", nil), 25)
	assert.True(t, apperr.IsValidation(err))
}
