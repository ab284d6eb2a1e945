package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

func TestParseVersionResponse(t *testing.T) {
	body := []byte(`{"version":"16.11.2-ee","revision":"b2d4d0e","kas":{"enabled":true}}`)
	resp, err := ParseVersionResponse(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Version != "16.11.2-ee" || resp.Revision != "b2d4d0e" {
		t.Errorf("got (%q, %q), want (16.11.2-ee, b2d4d0e)", resp.Version, resp.Revision)
	}
}

func TestParseVersionResponse_Empty(t *testing.T) {
	if _, err := ParseVersionResponse([]byte(`{"revision":"x"}`)); err == nil {
		t.Fatal("expected error for missing version, got nil")
	}
}

func TestParseVersionResponse_InvalidJSON(t *testing.T) {
	if _, err := ParseVersionResponse([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b   string
		expect int
	}{
		{"16.11.2", "16.11.2", 0},
		{"16.11", "16.11.0", 0},
		{"16.11.2", "16.11.10", -1},
		{"17.0.0", "16.11.2", 1},
		{"16.11.2-ee", "16.11.2", 0},
		{"12.7.9", "12.8", -1},
		{"12.8.0-ee", "12.8", 0},
		{"nightly", "12.8", 0},
	}
	for _, tc := range tests {
		t.Run(tc.a+"_vs_"+tc.b, func(t *testing.T) {
			got := CompareVersions(tc.a, tc.b)
			if got != tc.expect {
				t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.expect)
			}
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	tests := []struct {
		version, min string
		expect       bool
	}{
		{"16.11.2", "12.8", true},
		{"12.7.0", "12.8", false},
		{"", "12.8", true},
		{"16.0", "", true},
		{"12.8.1-ee", "12.8", true},
	}
	for _, tc := range tests {
		got := VersionAtLeast(tc.version, tc.min)
		if got != tc.expect {
			t.Errorf("VersionAtLeast(%q, %q) = %v, want %v", tc.version, tc.min, got, tc.expect)
		}
	}
}

func TestSupportsKind(t *testing.T) {
	if SupportsKind("12.7.0", models.KindGroup) {
		t.Error("12.7 should not support group import")
	}
	if !SupportsKind("12.7.0", models.KindProject) {
		t.Error("12.7 should support project import")
	}
	if !SupportsKind("12.7.0", models.KindUser) {
		t.Error("users have no minimum version")
	}
}

func TestProbeAndStore(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/version" {
			t.Errorf("path = %s, want /api/v4/version", r.URL.Path)
		}
		w.Write([]byte(`{"version":"16.11.2","revision":"abc"}`))
	}))
	defer ts.Close()

	store := models.NewConnectionStore()
	conn := &models.Connection{Name: "new", URL: ts.URL, Token: "t"}
	store.Create(conn)

	err := ProbeAndStore(context.Background(), NewClient(conn), conn, store, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("ProbeAndStore returned error: %v", err)
	}
	got := store.Get(conn.ID)
	if got.PingStatus != "ok" || got.Version != "16.11.2" {
		t.Errorf("stored (%q, %q), want (ok, 16.11.2)", got.PingStatus, got.Version)
	}
}

func TestProbeAndStore_Unauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"401 Unauthorized"}`))
	}))
	defer ts.Close()

	store := models.NewConnectionStore()
	conn := &models.Connection{Name: "new", URL: ts.URL, Token: "bad"}
	store.Create(conn)

	if err := ProbeAndStore(context.Background(), NewClient(conn), conn, store, zap.NewNop().Sugar()); err == nil {
		t.Fatal("expected error for 401")
	}
	if got := store.Get(conn.ID); got.PingStatus != "error" {
		t.Errorf("PingStatus = %q, want error", got.PingStatus)
	}
}
