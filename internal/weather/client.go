package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"weather-bot/internal/models"

	"github.com/sony/gobreaker"
)

// ErrSourceUnavailable covers every upstream failure mode: transport
// errors, non-success status codes and malformed payloads. Callers treat
// it as a transient, user-visible condition.
var ErrSourceUnavailable = errors.New("forecast source unavailable")

// Client fetches forecast time series from the OpenWeatherMap 5-day API.
type Client struct {
	baseURL    string
	apiKey     string
	units      string
	lang       string
	httpClient *http.Client
	circuit    *gobreaker.CircuitBreaker
}

type Options struct {
	BaseURL string
	APIKey  string
	Units   string
	Lang    string
	Timeout time.Duration
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		units:      opts.Units,
		lang:       opts.Lang,
		httpClient: &http.Client{Timeout: timeout},
		circuit:    cb,
	}
}

// forecastResponse mirrors the subset of the OpenWeatherMap /forecast
// payload the bot consumes. Optional fields decode to nil when absent.
type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp     *float64 `json:"temp"`
			TempMin  float64  `json:"temp_min"`
			TempMax  float64  `json:"temp_max"`
			Humidity *int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64  `json:"speed"`
			Deg   *float64 `json:"deg"`
		} `json:"wind"`
	} `json:"list"`
}

// Fetch returns the forecast series for a coordinate in chronological
// order. One call per coordinate; there is no retry, only the circuit
// breaker shielding a dead upstream.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) ([]models.ForecastSample, error) {
	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%f", lat))
	values.Set("lon", fmt.Sprintf("%f", lon))
	values.Set("appid", c.apiKey)
	values.Set("units", c.units)
	values.Set("lang", c.lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build forecast request: %w", err)
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}

		var payload forecastResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("malformed payload: %w", err)
		}
		return &payload, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	payload := result.(*forecastResponse)
	if len(payload.List) == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrSourceUnavailable)
	}

	samples := make([]models.ForecastSample, 0, len(payload.List))
	for _, entry := range payload.List {
		s := models.ForecastSample{
			Timestamp: time.Unix(entry.Dt, 0),
			Temp:      entry.Main.Temp,
			TempMin:   entry.Main.TempMin,
			TempMax:   entry.Main.TempMax,
			Humidity:  entry.Main.Humidity,
			WindSpeed: entry.Wind.Speed,
			WindDeg:   entry.Wind.Deg,
		}
		if len(entry.Weather) > 0 {
			s.Description = entry.Weather[0].Description
		}
		samples = append(samples, s)
	}

	return samples, nil
}
