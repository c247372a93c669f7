// SPDX-License-Identifier: MIT

package broadcastapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8088", "tok")
	if client == nil {
		t.Fatal("NewClient() returned nil")
	}
	if client.baseURL != "http://localhost:8088" {
		t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8088")
	}
}

func TestNewClientWithOptions(t *testing.T) {
	client := NewClient("http://localhost:8088", "tok", WithTimeout(10*time.Second))
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", client.httpClient.Timeout, 10*time.Second)
	}
}

func TestCreateBroadcast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/broadcasts" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer tok")
		}
		if r.Header.Get(requestIDHeader) == "" {
			t.Error("request ID header not set")
		}
		_ = json.NewEncoder(w).Encode(Broadcast{ID: "bc1", Title: "cam1", Status: "ready", IngestURL: "https://ingest.example/bc1"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	bc, err := client.CreateBroadcast(context.Background(), "cam1")
	if err != nil {
		t.Fatalf("CreateBroadcast() error = %v", err)
	}
	if bc.ID != "bc1" || bc.IngestURL != "https://ingest.example/bc1" {
		t.Errorf("CreateBroadcast() = %+v", bc)
	}
}

func TestEndBroadcast(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.EndBroadcast(context.Background(), "bc1"); err != nil {
		t.Fatalf("EndBroadcast() error = %v", err)
	}
	if gotPath != "/v1/broadcasts/bc1/end" {
		t.Errorf("path = %q, want %q", gotPath, "/v1/broadcasts/bc1/end")
	}
}

func TestListBroadcastsPagination(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(BroadcastList{
				Items:         []Broadcast{{ID: "bc1", Status: "complete"}},
				NextPageToken: "page2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(BroadcastList{Items: []Broadcast{{ID: "bc2", Status: "complete"}}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	first, err := client.ListBroadcasts(context.Background(), "")
	if err != nil {
		t.Fatalf("ListBroadcasts() error = %v", err)
	}
	if len(first.Items) != 1 || first.NextPageToken != "page2" {
		t.Fatalf("first page = %+v", first)
	}

	second, err := client.ListBroadcasts(context.Background(), first.NextPageToken)
	if err != nil {
		t.Fatalf("ListBroadcasts() page 2 error = %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "bc2" {
		t.Fatalf("second page = %+v", second)
	}
}

func TestDoSurfacesErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.Ping(context.Background()); err == nil {
		t.Error("Ping() expected error for 403 response")
	}
}

func TestDeleteBroadcast(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	if err := client.DeleteBroadcast(context.Background(), "bc1"); err != nil {
		t.Fatalf("DeleteBroadcast() error = %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
}
