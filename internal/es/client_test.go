package es

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Search_SendsQuerySizeFrom(t *testing.T) {
	// Search posts {query, size, from} to /{index}/_search and decodes the response
	var gotBody map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"hits":{"total":{"value":42},"hits":[{"_source":{"id":"a"}}]}}`)
	}))
	defer srv.Close()

	c := &Client{baseURL: srv.URL, httpClient: srv.Client()}
	resp, err := c.Search(context.Background(), "shipments", map[string]any{"match_all": map[string]any{}}, 20, 40)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotPath != "/shipments/_search" {
		t.Errorf("path = %q, want /shipments/_search", gotPath)
	}
	if gotBody["size"] != float64(20) || gotBody["from"] != float64(40) {
		t.Errorf("pagination in body = size %v from %v", gotBody["size"], gotBody["from"])
	}
	if HitsTotal(resp) != 42 {
		t.Errorf("total = %d, want 42", HitsTotal(resp))
	}
	if len(Hits(resp)) != 1 {
		t.Errorf("hits = %d, want 1", len(Hits(resp)))
	}
}

func TestClient_Aggregate_SendsAggsWithZeroSize(t *testing.T) {
	// Aggregate posts {query, aggs, size:0} so only buckets come back
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"hits":{"total":{"value":7}},"aggregations":{"by_port":{"buckets":[]}}}`)
	}))
	defer srv.Close()

	c := &Client{baseURL: srv.URL, httpClient: srv.Client()}
	resp, err := c.Aggregate(context.Background(), "shipments", map[string]any{}, map[string]any{"by_port": map[string]any{}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if gotBody["size"] != float64(0) {
		t.Errorf("size = %v, want 0", gotBody["size"])
	}
	if _, ok := resp["aggregations"]; !ok {
		t.Error("expected aggregations in response")
	}
}

func TestClient_ReferenceValues_DecodesStringList(t *testing.T) {
	// ReferenceValues unwraps the {values: [...]} envelope into a string slice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("field") != "carrier" {
			t.Errorf("field param = %q", r.URL.Query().Get("field"))
		}
		fmt.Fprint(w, `{"values":["MAERSK","MSC","CMA CGM"]}`)
	}))
	defer srv.Close()

	c := &Client{baseURL: srv.URL, httpClient: srv.Client()}
	values, err := c.ReferenceValues(context.Background(), "carrier")
	if err != nil {
		t.Fatalf("ReferenceValues: %v", err)
	}
	if len(values) != 3 || values[0] != "MAERSK" {
		t.Errorf("values = %v", values)
	}
}

func TestClient_Search_NonOKStatusIsError(t *testing.T) {
	// A non-200 response surfaces as an error carrying the status code
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{baseURL: srv.URL, httpClient: srv.Client()}
	if _, err := c.Search(context.Background(), "missing", map[string]any{}, 20, 0); err == nil {
		t.Error("expected error for 404")
	}
}

func TestHitsTotal_ToleratesMissingShape(t *testing.T) {
	// A response without hits.total yields 0 rather than panicking
	if got := HitsTotal(map[string]any{}); got != 0 {
		t.Errorf("total = %d, want 0", got)
	}
}
