package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const forecastPayload = `{
  "list": [
    {
      "dt": 1704096000,
      "main": {"temp": 3.2, "temp_min": 2.1, "temp_max": 4.0, "humidity": 80},
      "weather": [{"description": "light snow"}],
      "wind": {"speed": 2.5, "deg": 200}
    },
    {
      "dt": 1704106800,
      "main": {"temp": 5.0, "temp_min": 4.0, "temp_max": 6.0},
      "weather": [],
      "wind": {"speed": 6.0}
    }
  ]
}`

func newTestClient(url string) *Client {
	return NewClient(Options{
		BaseURL: url,
		APIKey:  "test-key",
		Units:   "metric",
		Lang:    "en",
		Timeout: time.Second,
	})
}

func TestFetch_ParsesSeries(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(forecastPayload))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	samples, err := client.Fetch(context.Background(), 55.7558, 37.6176)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}

	first := samples[0]
	if first.Temp == nil || *first.Temp != 3.2 {
		t.Errorf("Temp = %v, want 3.2", first.Temp)
	}
	if first.Humidity == nil || *first.Humidity != 80 {
		t.Errorf("Humidity = %v, want 80", first.Humidity)
	}
	if first.WindDeg == nil || *first.WindDeg != 200 {
		t.Errorf("WindDeg = %v, want 200", first.WindDeg)
	}
	if first.Description != "light snow" {
		t.Errorf("Description = %q, want light snow", first.Description)
	}
	if !first.Timestamp.Equal(time.Unix(1704096000, 0)) {
		t.Errorf("Timestamp = %v, want unix 1704096000", first.Timestamp)
	}

	// Missing optional fields decode to nil, not zero readings.
	second := samples[1]
	if second.Humidity != nil || second.WindDeg != nil {
		t.Errorf("missing fields should stay nil, got humidity=%v deg=%v", second.Humidity, second.WindDeg)
	}
	if second.Description != "" {
		t.Errorf("Description = %q, want empty for missing weather block", second.Description)
	}

	for _, param := range []string{"appid=test-key", "units=metric"} {
		if !strings.Contains(gotQuery, param) {
			t.Errorf("request query %q missing %q", gotQuery, param)
		}
	}
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.Fetch(context.Background(), 0, 0); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestFetch_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.Fetch(context.Background(), 0, 0); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestFetch_EmptySeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"list": []}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	if _, err := client.Fetch(context.Background(), 0, 0); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable for empty series, got %v", err)
	}
}
