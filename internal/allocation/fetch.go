package allocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"stockreq/internal/models"
)

// availabilityResponse mirrors the availability endpoint's reconstruction
// buckets; only the remaining bucket matters to the engine.
type availabilityResponse struct {
	Remaining []models.SerialDetail `json:"remainingSerialsDetails"`
}

// NewHTTPFetch builds a FetchFunc against an external availability service
// exposing the same /products contract. The per-call deadline comes from the
// engine through ctx.
func NewHTTPFetch(baseURL string) FetchFunc {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)

	return func(ctx context.Context, itemCode string) ([]models.SerialDetail, error) {
		var out availabilityResponse
		resp, err := client.R().
			SetContext(ctx).
			SetQueryParam("search_item_code", itemCode).
			SetResult(&out).
			Get("/products")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("availability service: %s", resp.Status())
		}
		return out.Remaining, nil
	}
}
