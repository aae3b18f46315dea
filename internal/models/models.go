// internal/models/models.go
package models

import (
	"time"
)

// User is a chat participant. Created lazily on first contact; one
// Telegram id maps to exactly one row.
type User struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Place is a named coordinate owned by a single user.
type Place struct {
	ID      int64   `json:"id"`
	OwnerID int64   `json:"owner_id"`
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// PlaceDefinition is the parsed form of the free-text "name, lat, lon"
// input, validated before a Place is created from it.
type PlaceDefinition struct {
	Name string  `validate:"required,max=50"`
	Lat  float64 `validate:"gte=-90,lte=90"`
	Lon  float64 `validate:"gte=-180,lte=180"`
}

// ForecastSample is one point of an upstream forecast time series.
// Optional upstream fields are pointers; nil renders as "n/a".
type ForecastSample struct {
	Timestamp   time.Time `json:"timestamp"`
	Temp        *float64  `json:"temp"`
	TempMin     float64   `json:"temp_min"`
	TempMax     float64   `json:"temp_max"`
	Humidity    *int      `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
	WindDeg     *float64  `json:"wind_deg"`
	Description string    `json:"description"`
}

// Option is one selectable control on a screen. Action is the opaque
// callback payload the transport echoes back.
type Option struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Screen is the transport-agnostic output of the controller: a text plus
// an ordered list of options. Alert screens are short notices the
// transport may render as a popup instead of a message.
type Screen struct {
	Text    string   `json:"text"`
	Options []Option `json:"options"`
	Alert   bool     `json:"alert"`
}
