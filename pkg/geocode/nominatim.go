package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"walktour/pkg/config"
	"walktour/pkg/model"
	"walktour/pkg/request"
)

// Nominatim reverse geocodes through an OSM Nominatim server. Requests are
// paced by their own limiter (the public server allows 1 req/s) and cached
// by the request client at ~10 m precision.
type Nominatim struct {
	rc        *request.Client
	baseURL   string
	userAgent string
	language  string
	limiter   *rate.Limiter
}

// NewNominatim creates a Nominatim source.
func NewNominatim(cfg config.GeocodeConfig, rc *request.Client) *Nominatim {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Nominatim{
		rc:        rc,
		baseURL:   strings.TrimSuffix(cfg.NominatimURL, "/"),
		userAgent: cfg.UserAgent,
		language:  "en",
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Name implements Lookuper.
func (n *Nominatim) Name() string { return "nominatim" }

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		Country       string `json:"country"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		Municipality  string `json:"municipality"`
		Neighbourhood string `json:"neighbourhood"`
		Quarter       string `json:"quarter"`
		Suburb        string `json:"suburb"`
		CityDistrict  string `json:"city_district"`
	} `json:"address"`
}

// Lookup implements Lookuper.
func (n *Nominatim) Lookup(ctx context.Context, lat, lon float64) (model.Place, error) {
	if n.baseURL == "" {
		return model.Place{}, errors.New("nominatim: no base url")
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lon))
	q.Set("zoom", "16")
	q.Set("addressdetails", "1")
	q.Set("accept-language", n.language)
	u := n.baseURL + "/reverse?" + q.Encode()
	cacheKey := fmt.Sprintf("nominatim:%.4f,%.4f:%s", lat, lon, n.language)

	if err := n.limiter.Wait(ctx); err != nil {
		return model.Place{}, err
	}

	headers := map[string]string{"Accept": "application/json"}
	if n.userAgent != "" {
		headers["User-Agent"] = n.userAgent
	}
	body, err := n.rc.GetWithHeaders(ctx, u, headers, cacheKey)
	if err != nil {
		return model.Place{}, fmt.Errorf("nominatim: %w", err)
	}

	var resp nominatimResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Place{}, fmt.Errorf("nominatim: decode: %w", err)
	}
	if resp.Error != "" {
		return model.Place{}, fmt.Errorf("nominatim: %s", resp.Error)
	}

	a := resp.Address
	return model.Place{
		Country:      a.Country,
		City:         firstNonEmpty(a.City, a.Town, a.Village, a.Municipality),
		Neighborhood: firstNonEmpty(a.Neighbourhood, a.Quarter, a.Suburb, a.CityDistrict),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
