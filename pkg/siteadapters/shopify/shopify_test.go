package shopify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pricewatch/pkg/models"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		url        string
		wantHandle string
		wantOK     bool
	}{
		{"https://shop.example.com/products/widget-pro", "widget-pro", true},
		{"https://shop.example.com/collections/all", "", false},
	}
	for _, tt := range tests {
		handle, ok := Detect(tt.url)
		if ok != tt.wantOK || handle != tt.wantHandle {
			t.Errorf("Detect(%q) = (%q, %v), want (%q, %v)", tt.url, handle, ok, tt.wantHandle, tt.wantOK)
		}
	}
}

// TestProbe_PartialStockPrefersAvailableVariantPrice covers spec
// scenario 2: a partial-stock .json response must report the price of
// the in-stock variant, not the first variant in document order.
func TestProbe_PartialStockPrefersAvailableVariantPrice(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products/widget.js":
			http.NotFound(w, r)
		case "/products/widget.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"product":{"title":"Widget","variants":[
				{"title":"P2S","price":"39.99","available":false},
				{"title":"X1C","price":"42.50","available":true}
			]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	result, ok := Probe(context.Background(), ts.Client(), ts.URL, "widget", 2500*time.Millisecond)
	if !ok {
		t.Fatal("Probe returned ok=false")
	}
	if result.Method != models.MethodShopifyJSON {
		t.Errorf("Method = %q, want %q", result.Method, models.MethodShopifyJSON)
	}
	if result.PriceCents == nil || *result.PriceCents != 4250 {
		t.Errorf("PriceCents = %v, want 4250", result.PriceCents)
	}
	if result.StockState != models.StockPartial {
		t.Errorf("StockState = %v, want PARTIAL", result.StockState)
	}
	if len(result.VariantStock) != 2 {
		t.Fatalf("len(VariantStock) = %d, want 2", len(result.VariantStock))
	}
	labels := map[string]bool{result.VariantStock[0].Label: true, result.VariantStock[1].Label: true}
	if !labels["P2S"] || !labels["X1C"] {
		t.Errorf("VariantStock labels = %v, want P2S and X1C", labels)
	}
}

func TestProbe_JSPricesAreAlreadyCents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/products/widget.js" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"title":"Widget","price":4999,"variants":[{"id":1,"title":"Default","price":4999,"available":true}]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	result, ok := Probe(context.Background(), ts.Client(), ts.URL, "widget", 2500*time.Millisecond)
	if !ok {
		t.Fatal("Probe returned ok=false")
	}
	if result.PriceCents == nil || *result.PriceCents != 4999 {
		t.Errorf("PriceCents = %v, want 4999", result.PriceCents)
	}
	if result.StockState != models.StockInStock {
		t.Errorf("StockState = %v, want IN_STOCK", result.StockState)
	}
}

func TestProbe_NoResultOnNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, ok := Probe(context.Background(), ts.Client(), ts.URL, "missing", 2500*time.Millisecond)
	if ok {
		t.Error("Probe() ok = true, want false for 404 responses")
	}
}
