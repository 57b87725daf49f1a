package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/i474232898/prayer-times-engine/internal/geo"
	"github.com/i474232898/prayer-times-engine/internal/prayer"
)

// DefaultAladhanBaseURL is the public Aladhan API root.
const DefaultAladhanBaseURL = "https://api.aladhan.com/v1"

// aladhanKeys maps the service's timing names onto the canonical set.
var aladhanKeys = map[prayer.Name]string{
	prayer.Fajr:    "Fajr",
	prayer.Sunrise: "Sunrise",
	prayer.Dhuhr:   "Dhuhr",
	prayer.Asr:     "Asr",
	prayer.Maghrib: "Maghrib",
	prayer.Isha:    "Isha",
}

// AladhanProvider implements prayer.Fetcher against the Aladhan timings API.
type AladhanProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewAladhanProvider(client *http.Client, baseURL string) *AladhanProvider {
	if baseURL == "" {
		baseURL = DefaultAladhanBaseURL
	}
	return &AladhanProvider{
		name:    "aladhan",
		baseURL: strings.TrimRight(baseURL, "/"),
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff(),
		},
		circuit: newBreaker("aladhan"),
	}
}

// WithBackoff replaces the retry policy.
func (p *AladhanProvider) WithBackoff(b BackoffConfig) *AladhanProvider {
	p.httpCfg.Backoff = b
	return p
}

func (p *AladhanProvider) Name() string {
	return p.name
}

func (p *AladhanProvider) Fetch(ctx context.Context, c geo.Coordinate, method int) (prayer.TimeSet, error) {
	set, err := p.fetch(ctx, c, method)
	if err != nil {
		return prayer.TimeSet{}, fmt.Errorf("%w: %s: %w", prayer.ErrPrayerServiceFailure, p.name, err)
	}
	return set, nil
}

func (p *AladhanProvider) fetch(ctx context.Context, c geo.Coordinate, method int) (prayer.TimeSet, error) {
	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(c.Latitude, 'f', 6, 64))
		values.Set("longitude", strconv.FormatFloat(c.Longitude, 'f', 6, 64))
		values.Set("method", strconv.Itoa(method))

		u := fmt.Sprintf("%s/timings?%s", p.baseURL, values.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return prayer.TimeSet{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Code int `json:"code"`
		Data struct {
			Timings map[string]string `json:"timings"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return prayer.TimeSet{}, fmt.Errorf("decode timings: %w", err)
	}
	if payload.Code != http.StatusOK {
		return prayer.TimeSet{}, fmt.Errorf("%w: body code %d", errUnexpected, payload.Code)
	}

	times := make(map[prayer.Name]prayer.TimeOfDay, len(aladhanKeys))
	for name, key := range aladhanKeys {
		raw, ok := payload.Data.Timings[key]
		if !ok {
			return prayer.TimeSet{}, fmt.Errorf("%w: missing %s", prayer.ErrIncompleteSet, key)
		}
		t, err := prayer.ParseTimeOfDay(raw)
		if err != nil {
			return prayer.TimeSet{}, fmt.Errorf("%s: %w", key, err)
		}
		times[name] = t
	}
	return prayer.NewTimeSet(times)
}
