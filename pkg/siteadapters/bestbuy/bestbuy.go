// Package bestbuy probes Best Buy Canada's public product JSON API,
// generalizing hofer.go's "decode a rigid struct from one GET" idiom.
package bestbuy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"pricewatch/pkg/extract"
	"pricewatch/pkg/models"
)

var reSKU = regexp.MustCompile(`\d{6,}`)

// Detect reports whether the host is a bestbuy.ca property and extracts
// a 6+ digit SKU from the path or a sku/id query parameter.
func Detect(rawURL string) (sku string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if !strings.Contains(strings.ToLower(u.Hostname()), "bestbuy.ca") {
		return "", false
	}

	for _, key := range []string{"sku", "id"} {
		if v := u.Query().Get(key); reSKU.MatchString(v) {
			return reSKU.FindString(v), true
		}
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if reSKU.MatchString(seg) {
			return reSKU.FindString(seg), true
		}
	}
	return "", false
}

type apiResponse struct {
	Name       string  `json:"name"`
	SalePrice  float64 `json:"salePrice"`
	RegularPrice float64 `json:"regularPrice"`
	Availability struct {
		OnlineAvailability  string `json:"onlineAvailability"`
		IsAvailableOnline   bool   `json:"isAvailableOnline"`
		InStoreAvailability bool   `json:"inStoreAvailability"`
	} `json:"availability"`
}

// Probe GETs https://www.bestbuy.ca/api/v2/json/product/<sku> and maps
// its availability fields per spec §4.4. A 3xx/non-2xx response is "no
// result"; the caller falls through.
func Probe(ctx context.Context, client *http.Client, sku string) (extract.Result, bool) {
	apiURL := fmt.Sprintf("https://www.bestbuy.ca/api/v2/json/product/%s", sku)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return extract.Result{}, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return extract.Result{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return extract.Result{}, false
	}

	var api apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return extract.Result{}, false
	}
	if api.Name == "" {
		return extract.Result{}, false
	}

	state := mapAvailability(api)
	var inStock *bool
	switch state {
	case models.StockInStock, models.StockPartial:
		v := true
		inStock = &v
	case models.StockOutOfStock:
		v := false
		inStock = &v
	}

	price := int64(math.Round(api.SalePrice * 100))
	if api.SalePrice == 0 {
		price = int64(math.Round(api.RegularPrice * 100))
	}

	return extract.Result{
		ProductName: api.Name,
		PriceCents:  &price,
		InStock:     inStock,
		StockState:  state,
		Confidence:  0.96,
		Method:      models.MethodBestBuyAPI,
	}, true
}

func mapAvailability(api apiResponse) models.StockState {
	avail := strings.ToLower(api.Availability.OnlineAvailability)
	switch {
	case strings.Contains(avail, "instock"):
		return models.StockInStock
	case strings.Contains(avail, "outofstock"), strings.Contains(avail, "soldout"), strings.Contains(avail, "backorder"):
		return models.StockOutOfStock
	}

	if api.Availability.IsAvailableOnline {
		return models.StockInStock
	}
	if api.Availability.InStoreAvailability {
		return models.StockPartial
	}
	return models.StockUnknown
}
