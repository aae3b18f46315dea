package compare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"weather-bot/internal/models"
)

// fakeSource serves canned series keyed by coordinate, and can fail for
// selected coordinates.
type fakeSource struct {
	series map[string][]models.ForecastSample
	fail   map[string]bool
	calls  int
}

func coordKey(lat, lon float64) string {
	return fmt.Sprintf("%.0f:%.0f", lat, lon)
}

func (f *fakeSource) Fetch(ctx context.Context, lat, lon float64) ([]models.ForecastSample, error) {
	f.calls++
	key := coordKey(lat, lon)
	if f.fail[key] {
		return nil, errors.New("status 503")
	}
	return f.series[key], nil
}

func f64(v float64) *float64 { return &v }

func sampleAt(ts time.Time, temp float64) models.ForecastSample {
	h := 50
	return models.ForecastSample{
		Timestamp:   ts,
		Temp:        f64(temp),
		TempMin:     temp - 1,
		TempMax:     temp + 1,
		Humidity:    &h,
		WindSpeed:   3,
		WindDeg:     f64(90),
		Description: "overcast",
	}
}

func seriesFor(days ...time.Time) []models.ForecastSample {
	var out []models.ForecastSample
	for _, day := range days {
		out = append(out,
			sampleAt(day.Add(9*time.Hour), 10),
			sampleAt(day.Add(15*time.Hour), 12),
		)
	}
	return out
}

func TestCompare_IndexesByDateTimePlace(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	src := &fakeSource{series: map[string][]models.ForecastSample{
		coordKey(0, 0): seriesFor(jan1, jan2),
		coordKey(1, 1): seriesFor(jan1, jan2),
	}}
	engine := NewEngine(src, 0)

	places := []models.Place{
		{ID: 1, Name: "A", Lat: 0, Lon: 0},
		{ID: 2, Name: "B", Lat: 1, Lon: 1},
	}

	report, err := engine.Compare(context.Background(), places, []string{"2024-01-01"})
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if len(report) != 1 {
		t.Fatalf("report has %d dates, want only 2024-01-01", len(report))
	}
	byTime, ok := report["2024-01-01"]
	if !ok {
		t.Fatal("report is missing the selected date")
	}
	for tod, byPlace := range byTime {
		if len(byPlace) != 2 {
			t.Errorf("time %s has %d places, want A and B", tod, len(byPlace))
		}
		for _, name := range []string{"A", "B"} {
			if _, ok := byPlace[name]; !ok {
				t.Errorf("time %s is missing place %q", tod, name)
			}
		}
	}
	if src.calls != 2 {
		t.Errorf("source fetched %d times, want one fetch per place", src.calls)
	}
}

func TestCompare_FailFastNamesPlace(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{
		series: map[string][]models.ForecastSample{coordKey(0, 0): seriesFor(jan1)},
		fail:   map[string]bool{coordKey(1, 1): true},
	}
	engine := NewEngine(src, 0)

	places := []models.Place{
		{ID: 1, Name: "A", Lat: 0, Lon: 0},
		{ID: 2, Name: "Dacha", Lat: 1, Lon: 1},
	}

	report, err := engine.Compare(context.Background(), places, []string{"2024-01-01"})
	if err == nil {
		t.Fatal("expected error when one fetch fails")
	}
	if report != nil {
		t.Error("expected no partial report")
	}
	if !strings.Contains(err.Error(), "Dacha") {
		t.Errorf("error should name the failing place: %v", err)
	}
}

func TestCompare_Preconditions(t *testing.T) {
	engine := NewEngine(&fakeSource{}, 0)
	one := []models.Place{{ID: 1, Name: "A"}}
	two := []models.Place{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}

	if _, err := engine.Compare(context.Background(), one, []string{"2024-01-01"}); !errors.Is(err, ErrTooFewPlaces) {
		t.Errorf("expected ErrTooFewPlaces, got %v", err)
	}
	if _, err := engine.Compare(context.Background(), two, nil); !errors.Is(err, ErrNoDays) {
		t.Errorf("expected ErrNoDays, got %v", err)
	}
}

func TestRender_Ordering(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	src := &fakeSource{series: map[string][]models.ForecastSample{
		coordKey(0, 0): seriesFor(jan1, jan2),
		coordKey(1, 1): seriesFor(jan1, jan2),
	}}
	engine := NewEngine(src, 0)

	// Selection order B before A must survive into the rendering.
	places := []models.Place{
		{ID: 2, Name: "B", Lat: 1, Lon: 1},
		{ID: 1, Name: "A", Lat: 0, Lon: 0},
	}

	report, err := engine.Compare(context.Background(), places, []string{"2024-01-02", "2024-01-01"})
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	text, err := engine.Render(report, places)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if i, j := strings.Index(text, "2024-01-01"), strings.Index(text, "2024-01-02"); i < 0 || j < 0 || i > j {
		t.Errorf("dates not ascending:\n%s", text)
	}
	if i, j := strings.Index(text, "09:00"), strings.Index(text, "15:00"); i < 0 || j < 0 || i > j {
		t.Errorf("times not ascending:\n%s", text)
	}
	if i, j := strings.Index(text, "📍 B:"), strings.Index(text, "📍 A:"); i < 0 || j < 0 || i > j {
		t.Errorf("places not in selection order:\n%s", text)
	}
}

func TestRender_TooLargeIsRejectedNotTruncated(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{series: map[string][]models.ForecastSample{
		coordKey(0, 0): seriesFor(jan1),
		coordKey(1, 1): seriesFor(jan1),
	}}
	engine := NewEngine(src, 40)

	places := []models.Place{
		{ID: 1, Name: "A", Lat: 0, Lon: 0},
		{ID: 2, Name: "B", Lat: 1, Lon: 1},
	}

	report, err := engine.Compare(context.Background(), places, []string{"2024-01-01"})
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	text, err := engine.Render(report, places)
	if !errors.Is(err, ErrReportTooLarge) {
		t.Fatalf("expected ErrReportTooLarge, got %v", err)
	}
	if text != "" {
		t.Error("an oversized report must not return partial text")
	}
}

func TestDayWindow_CapsAtFiveAscending(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var days []time.Time
	for i := 0; i < 7; i++ {
		days = append(days, base.AddDate(0, 0, i))
	}

	src := &fakeSource{series: map[string][]models.ForecastSample{
		coordKey(0, 0): seriesFor(days...),
	}}
	engine := NewEngine(src, 0)

	window, err := engine.DayWindow(context.Background(), models.Place{Name: "A", Lat: 0, Lon: 0})
	if err != nil {
		t.Fatalf("DayWindow failed: %v", err)
	}

	if len(window) != MaxSelectableDays {
		t.Fatalf("window has %d days, want %d", len(window), MaxSelectableDays)
	}
	for i := 1; i < len(window); i++ {
		if window[i-1] >= window[i] {
			t.Errorf("window not ascending: %v", window)
		}
	}
	if window[0] != "2024-01-01" {
		t.Errorf("window should start at the earliest date, got %v", window)
	}
}
