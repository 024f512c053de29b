package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redeemBody struct {
	Code string `json:"code"`
}

func gzipBytes(t *testing.T, b []byte) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(b)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func decodeRedeemHandler(t *testing.T, got *redeemBody) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Encoding"))
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestDecompressRequest(t *testing.T) {
	payload := []byte(`{"code":"ABCD-EFGH-JKLM"}`)

	tests := []struct {
		name       string
		body       func(t *testing.T) *bytes.Buffer
		encoding   string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "gzip encoded json",
			body:       func(t *testing.T) *bytes.Buffer { return gzipBytes(t, payload) },
			encoding:   "gzip",
			wantStatus: http.StatusOK,
			wantCode:   "ABCD-EFGH-JKLM",
		},
		{
			name:       "plain json",
			body:       func(t *testing.T) *bytes.Buffer { return bytes.NewBuffer(payload) },
			wantStatus: http.StatusOK,
			wantCode:   "ABCD-EFGH-JKLM",
		},
		{
			name:       "malformed gzip",
			body:       func(t *testing.T) *bytes.Buffer { return bytes.NewBufferString("not gzip at all") },
			encoding:   "gzip",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got redeemBody

			req := httptest.NewRequest(http.MethodPost, "/api/user/redeem", tt.body(t))
			req.Header.Set("Content-Type", "application/json")
			if tt.encoding != "" {
				req.Header.Set("Content-Encoding", tt.encoding)
			}
			rec := httptest.NewRecorder()

			DecompressRequest(decodeRedeemHandler(t, &got)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestDecompressRequest_LeavesResponseUntouched(t *testing.T) {
	encoded := gzipBytes(t, []byte("# HELP up\n")).Bytes()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(encoded)
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	DecompressRequest(next).ServeHTTP(rec, req)

	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, encoded, rec.Body.Bytes())

	gr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(plain), "# HELP"))
}
