package compare

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"weather-bot/internal/models"
	"weather-bot/internal/weather"
)

const (
	// MaxSelectableDays caps the day-selection window offered to the user.
	MaxSelectableDays = 5

	// DefaultMaxChars is the transport message-size guard.
	DefaultMaxChars = 4000
)

var (
	// ErrReportTooLarge means the rendered report would exceed the
	// message-size limit. The report is never truncated because a cut
	// can land mid-entry; the caller asks the user to narrow the
	// selection instead.
	ErrReportTooLarge = errors.New("comparison report exceeds message size limit")

	ErrTooFewPlaces = errors.New("comparison requires at least two places")
	ErrNoDays       = errors.New("comparison requires at least one day")
)

// ForecastSource yields a chronological forecast series for a coordinate.
type ForecastSource interface {
	Fetch(ctx context.Context, lat, lon float64) ([]models.ForecastSample, error)
}

// Report indexes forecast samples by date, then time of day, then place
// name. Built fresh per comparison; never cached.
type Report map[string]map[string]map[string]models.ForecastSample

// Engine builds multi-place, multi-day comparison reports.
type Engine struct {
	source   ForecastSource
	maxChars int
}

func NewEngine(source ForecastSource, maxChars int) *Engine {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Engine{source: source, maxChars: maxChars}
}

// DayWindow returns up to MaxSelectableDays distinct calendar dates,
// earliest first, from one place's forecast series. The window is what
// the day-selection screen offers.
func (e *Engine) DayWindow(ctx context.Context, place models.Place) ([]string, error) {
	series, err := e.source.Fetch(ctx, place.Lat, place.Lon)
	if err != nil {
		return nil, fmt.Errorf("fetch for %q: %w", place.Name, err)
	}

	seen := make(map[string]struct{})
	var dates []string
	for _, s := range series {
		date := s.Timestamp.Format("2006-01-02")
		if _, ok := seen[date]; ok {
			continue
		}
		seen[date] = struct{}{}
		dates = append(dates, date)
	}
	sort.Strings(dates)

	if len(dates) > MaxSelectableDays {
		dates = dates[:MaxSelectableDays]
	}
	return dates, nil
}

// Compare fetches each place's series, keeps only samples falling on the
// selected dates and indexes them by (date, time, place name). A single
// failed fetch fails the whole comparison; there are no partial reports.
func (e *Engine) Compare(ctx context.Context, places []models.Place, days []string) (Report, error) {
	if len(places) < 2 {
		return nil, ErrTooFewPlaces
	}
	if len(days) == 0 {
		return nil, ErrNoDays
	}

	wanted := make(map[string]struct{}, len(days))
	for _, d := range days {
		wanted[d] = struct{}{}
	}

	report := make(Report)
	for _, place := range places {
		series, err := e.source.Fetch(ctx, place.Lat, place.Lon)
		if err != nil {
			return nil, fmt.Errorf("fetch for %q: %w", place.Name, err)
		}

		for _, s := range series {
			date := s.Timestamp.Format("2006-01-02")
			if _, ok := wanted[date]; !ok {
				continue
			}
			tod := s.Timestamp.Format("15:04")

			if report[date] == nil {
				report[date] = make(map[string]map[string]models.ForecastSample)
			}
			if report[date][tod] == nil {
				report[date][tod] = make(map[string]models.ForecastSample)
			}
			report[date][tod][place.Name] = s
		}
	}

	return report, nil
}

// Render serializes a report: dates ascending, times ascending, places
// in the order given. Returns ErrReportTooLarge instead of a cut report
// when the result exceeds the configured limit.
func (e *Engine) Render(report Report, order []models.Place) (string, error) {
	dates := make([]string, 0, len(report))
	for d := range report {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var b strings.Builder
	b.WriteString("📊 Forecast comparison")

	for _, date := range dates {
		b.WriteString(fmt.Sprintf("\n\n📅 %s (%s):", dayName(date), date))

		byTime := report[date]
		times := make([]string, 0, len(byTime))
		for t := range byTime {
			times = append(times, t)
		}
		sort.Strings(times)

		for _, tod := range times {
			b.WriteString(fmt.Sprintf("\n\n⏰ %s:", tod))
			for _, place := range order {
				s, ok := byTime[tod][place.Name]
				if !ok {
					continue
				}
				b.WriteString("\n  " + sampleLine(place.Name, s))
			}
		}
	}

	text := b.String()
	if utf8.RuneCountInString(text) > e.maxChars {
		return "", ErrReportTooLarge
	}
	return text, nil
}

func sampleLine(name string, s models.ForecastSample) string {
	temp := weather.NotAvailable
	if s.Temp != nil {
		temp = fmt.Sprintf("%.1f°C", *s.Temp)
	}
	humidity := weather.NotAvailable
	if s.Humidity != nil {
		humidity = fmt.Sprintf("%d%%", *s.Humidity)
	}
	desc := s.Description
	if desc == "" {
		desc = weather.NotAvailable
	}
	return fmt.Sprintf("📍 %s: 🌡 %s, 💧 %s, 🌪 %.1f m/s (%s), ☁️ %s",
		name, temp, humidity, s.WindSpeed, weather.WindDirection(s.WindDeg), desc)
}

func dayName(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "?"
	}
	return t.Format("Mon")
}
