package weather

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"weather-bot/internal/models"
)

// NotAvailable marks a field the upstream did not supply.
const NotAvailable = "n/a"

var compassSectors = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// WindDirection buckets degrees into 8 compass sectors of 45 degrees,
// sector 0 = North, clockwise, wrapping at 360. Zero degrees is a valid
// North reading; only a missing value maps to the n/a marker.
func WindDirection(deg *float64) string {
	if deg == nil {
		return NotAvailable
	}
	idx := (int(*deg) / 45) % 8
	if idx < 0 {
		idx += 8
	}
	return compassSectors[idx]
}

// FormatCurrent renders the first sample of a series as the current
// conditions. Missing fields render as n/a instead of being omitted.
func FormatCurrent(series []models.ForecastSample) string {
	if len(series) == 0 {
		return "No current weather data."
	}

	s := series[0]

	temp := NotAvailable
	if s.Temp != nil {
		temp = fmt.Sprintf("%.1f°C", *s.Temp)
	}
	humidity := NotAvailable
	if s.Humidity != nil {
		humidity = fmt.Sprintf("%d%%", *s.Humidity)
	}
	desc := NotAvailable
	if s.Description != "" {
		desc = capitalize(s.Description)
	}

	return fmt.Sprintf(
		"🌡 Now: %s\n💧 Humidity: %s\n🌪 Wind: %.1f m/s (%s)\n☁️ %s",
		temp, humidity, s.WindSpeed, WindDirection(s.WindDeg), desc,
	)
}

// dayAggregate folds one calendar day's samples into a single line's
// worth of values.
type dayAggregate struct {
	tempMin  float64
	tempMax  float64
	humidity int
	windMax  float64
	windDir  string
	desc     string
}

// aggregateDay reduces a non-empty day's samples: min of mins, max of
// maxes, mean humidity rounded to nearest integer (missing counts as
// zero, as the upstream contract treats absence as no reading), max wind
// speed. Wind direction and description come from the first sample of
// the day; averaging directions is not meaningful.
func aggregateDay(samples []models.ForecastSample) dayAggregate {
	agg := dayAggregate{
		tempMin: samples[0].TempMin,
		tempMax: samples[0].TempMax,
		windDir: WindDirection(samples[0].WindDeg),
		desc:    samples[0].Description,
	}

	var humiditySum int
	for _, s := range samples {
		if s.TempMin < agg.tempMin {
			agg.tempMin = s.TempMin
		}
		if s.TempMax > agg.tempMax {
			agg.tempMax = s.TempMax
		}
		if s.WindSpeed > agg.windMax {
			agg.windMax = s.WindSpeed
		}
		if s.Humidity != nil {
			humiditySum += *s.Humidity
		}
	}
	agg.humidity = int(math.Round(float64(humiditySum) / float64(len(samples))))

	return agg
}

// groupByDate buckets samples by local calendar date, preserving the
// series order inside each bucket, and returns the dates ascending.
func groupByDate(series []models.ForecastSample) (map[string][]models.ForecastSample, []string) {
	buckets := make(map[string][]models.ForecastSample)
	var dates []string
	for _, s := range series {
		date := s.Timestamp.Format("2006-01-02")
		if _, ok := buckets[date]; !ok {
			dates = append(dates, date)
		}
		buckets[date] = append(buckets[date], s)
	}
	sort.Strings(dates)
	return buckets, dates
}

// FormatDaily renders the first numDays distinct calendar dates of a
// series. A single day lists every sample with its time; multiple days
// collapse each day into one aggregated line.
func FormatDaily(series []models.ForecastSample, numDays int) string {
	if len(series) == 0 {
		return "No forecast data."
	}

	buckets, dates := groupByDate(series)
	if numDays < len(dates) {
		dates = dates[:numDays]
	}

	var blocks []string
	for _, date := range dates {
		samples := buckets[date]
		day := samples[0].Timestamp.Format("Mon")

		if numDays == 1 {
			blocks = append(blocks, fmt.Sprintf("📅 %s (%s):", day, date))
			for _, s := range samples {
				temp := NotAvailable
				if s.Temp != nil {
					temp = fmt.Sprintf("%.1f°C", *s.Temp)
				}
				humidity := NotAvailable
				if s.Humidity != nil {
					humidity = fmt.Sprintf("%d%%", *s.Humidity)
				}
				desc := NotAvailable
				if s.Description != "" {
					desc = capitalize(s.Description)
				}
				blocks = append(blocks, fmt.Sprintf(
					"⏰ %s:\n  🌡 %s\n  💧 %s\n  🌪 %.1f m/s (%s)\n  ☁️ %s",
					s.Timestamp.Format("15:04"), temp, humidity,
					s.WindSpeed, WindDirection(s.WindDeg), desc,
				))
			}
			continue
		}

		agg := aggregateDay(samples)
		desc := NotAvailable
		if agg.desc != "" {
			desc = capitalize(agg.desc)
		}
		blocks = append(blocks, fmt.Sprintf(
			"📅 %s (%s):\n  🌡 %.1f°C...%.1f°C\n  💧 Humidity: ~%d%%\n  🌪 Wind: up to %.1f m/s (%s)\n  ☁️ %s",
			day, date, agg.tempMin, agg.tempMax, agg.humidity, agg.windMax, agg.windDir, desc,
		))
	}

	return strings.Join(blocks, "\n\n")
}

func capitalize(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
