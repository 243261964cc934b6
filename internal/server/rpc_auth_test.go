package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

var dummyHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestRequireToken_ValidToken(t *testing.T) {
	handler := requireToken(testSecret, dummyHandler)

	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Fatalf("expected 'ok' body, got %q", rr.Body.String())
	}
}

func TestRequireToken_QueryToken(t *testing.T) {
	handler := requireToken(testSecret, dummyHandler)

	req := httptest.NewRequest(http.MethodGet, "/jsonrpc/ws?token="+testSecret, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireToken_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"missing", testSecret, ""},
		{"wrong token", testSecret, "Bearer nope"},
		{"no bearer prefix", testSecret, testSecret},
		{"basic scheme", testSecret, "Basic " + testSecret},
		{"empty secret", "", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := requireToken(tt.secret, dummyHandler)
			req := httptest.NewRequest(http.MethodPost, "/jsonrpc", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var resp map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			errObj, ok := resp["error"].(map[string]any)
			if !ok {
				t.Fatalf("expected error object, got %v", resp["error"])
			}
			if errObj["code"].(float64) != -32600 {
				t.Fatalf("expected error code -32600, got %v", errObj["code"])
			}
		})
	}
}

func TestRequireToken_HeaderWinsOverQuery(t *testing.T) {
	handler := requireToken(testSecret, dummyHandler)

	req := httptest.NewRequest(http.MethodGet, "/jsonrpc/ws?token="+testSecret, nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
