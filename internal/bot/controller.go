package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"weather-bot/internal/compare"
	"weather-bot/internal/db"
	"weather-bot/internal/models"
	"weather-bot/internal/session"
	"weather-bot/internal/weather"
	"weather-bot/pkg/logger"

	"github.com/go-playground/validator/v10"
)

// Callback action ids shared between the controller and the transport.
const (
	ActionMainMenu        = "main_menu"
	ActionAddPlace        = "add_place"
	ActionDeletePlace     = "delete_place"
	ActionCurrentLocation = "current_location"
	ActionShareLocation   = "share_location"
	ActionCancelLocation  = "cancel_location"
	ActionCompare         = "compare"
	ActionCompareContinue = "cmp_continue"
	ActionCompareExecute  = "cmp_execute"

	ActionForecastCurrent = "current"
	ActionForecastToday   = "today"
	ActionForecast5Days   = "5days"

	PrefixPlace         = "place_"
	PrefixDeleteConfirm = "delete_confirm_"
	PrefixDeleteFinal   = "delete_final_"
	PrefixComparePlace  = "cmp_place_"
	PrefixCompareDay    = "cmp_day_"
)

// EventKind discriminates inbound controller events.
type EventKind int

const (
	EventStart EventKind = iota
	EventMainMenu
	EventRequestLocation
	EventCancelLocationRequest
	EventLocationShared
	EventAddPlaceStart
	EventPlaceTextSubmitted
	EventSelectPlace
	EventDeletePlaceStart
	EventDeletePlaceConfirm
	EventDeletePlaceFinal
	EventForecastRequested
	EventCompareStart
	EventComparePlaceToggle
	EventCompareContinue
	EventCompareDayToggle
	EventCompareExecute
)

// Event is one abstract inbound interaction, already decoded from the
// transport. Only the fields relevant to the kind are set.
type Event struct {
	Kind     EventKind
	Text     string
	PlaceID  int64
	Date     string
	Lat      float64
	Lon      float64
	Forecast string
}

// PlaceStore is the persistence collaborator for users and their places.
type PlaceStore interface {
	GetOrCreateUser(ctx context.Context, telegramID int64) (*models.User, error)
	ListPlaces(ctx context.Context, ownerID int64) ([]models.Place, error)
	CreatePlace(ctx context.Context, ownerID int64, name string, lat, lon float64) (*models.Place, error)
	GetPlace(ctx context.Context, placeID int64) (*models.Place, error)
	DeletePlace(ctx context.Context, placeID, ownerID int64) (bool, error)
}

// ForecastSource yields a chronological forecast series for a coordinate.
type ForecastSource interface {
	Fetch(ctx context.Context, lat, lon float64) ([]models.ForecastSample, error)
}

// Controller turns inbound events into screens, consulting and mutating
// the per-user selection session on the way.
type Controller struct {
	store    PlaceStore
	source   ForecastSource
	engine   *compare.Engine
	sessions *session.Store
	validate *validator.Validate
	logger   *logger.Logger
}

func NewController(store PlaceStore, source ForecastSource, engine *compare.Engine, sessions *session.Store, l *logger.Logger) *Controller {
	return &Controller{
		store:    store,
		source:   source,
		engine:   engine,
		sessions: sessions,
		validate: validator.New(),
		logger:   l,
	}
}

// HandleEvent dispatches one event for one user. It returns nil when
// there is nothing to show, which includes results that became stale
// while an external fetch was in flight. Expected failures come back as
// alert screens; only unexpected ones surface as errors.
func (c *Controller) HandleEvent(ctx context.Context, userID int64, ev Event) (*models.Screen, error) {
	switch ev.Kind {
	case EventStart, EventMainMenu, EventCancelLocationRequest:
		return c.handleMainMenu(ctx, userID)
	case EventRequestLocation:
		return c.handleRequestLocation(userID)
	case EventLocationShared:
		return c.handleLocationShared(userID, ev.Lat, ev.Lon)
	case EventAddPlaceStart:
		return c.handleAddPlaceStart(userID)
	case EventPlaceTextSubmitted:
		return c.handlePlaceText(ctx, userID, ev.Text)
	case EventSelectPlace:
		return c.handleSelectPlace(ctx, userID, ev.PlaceID)
	case EventDeletePlaceStart:
		return c.handleDeletePlaceStart(ctx, userID)
	case EventDeletePlaceConfirm:
		return c.handleDeletePlaceConfirm(ev.PlaceID)
	case EventDeletePlaceFinal:
		return c.handleDeletePlaceFinal(ctx, userID, ev.PlaceID)
	case EventForecastRequested:
		return c.handleForecast(ctx, userID, ev.Forecast)
	case EventCompareStart:
		return c.handleCompareStart(ctx, userID)
	case EventComparePlaceToggle:
		return c.handleComparePlaceToggle(ctx, userID, ev.PlaceID)
	case EventCompareContinue:
		return c.handleCompareContinue(ctx, userID)
	case EventCompareDayToggle:
		return c.handleCompareDayToggle(userID, ev.Date)
	case EventCompareExecute:
		return c.handleCompareExecute(ctx, userID)
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func (c *Controller) handleMainMenu(ctx context.Context, userID int64) (*models.Screen, error) {
	user, err := c.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	places, err := c.store.ListPlaces(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	c.sessions.Do(userID, func(s *session.Session) {
		s.Reset()
	})

	return mainMenuScreen(places), nil
}

func (c *Controller) handleRequestLocation(userID int64) (*models.Screen, error) {
	c.sessions.Do(userID, func(s *session.Session) {
		s.Reset()
		s.SetMode(session.ModeAwaitingLocation)
	})

	return &models.Screen{
		Text: "📍 Share your location or press Cancel:",
		Options: []models.Option{
			{Label: "📍 Send location", Action: ActionShareLocation},
			{Label: "❌ Cancel", Action: ActionCancelLocation},
		},
	}, nil
}

func (c *Controller) handleLocationShared(userID int64, lat, lon float64) (*models.Screen, error) {
	c.sessions.Do(userID, func(s *session.Session) {
		s.SetPendingCoords(lat, lon)
		s.SetMode(session.ModeIdle)
	})

	return forecastKindScreen("Choose forecast type:"), nil
}

func (c *Controller) handleAddPlaceStart(userID int64) (*models.Screen, error) {
	c.sessions.Do(userID, func(s *session.Session) {
		s.Reset()
		s.SetMode(session.ModeAwaitingPlaceText)
	})

	return &models.Screen{
		Text:    "Enter the place as:\n<Name>, <latitude>, <longitude>\nExample: Home, 55.7558, 37.6176",
		Options: []models.Option{{Label: "← Back", Action: ActionMainMenu}},
	}, nil
}

// handlePlaceText parses free text as a place definition, but only while
// the session is awaiting one. The session returns to idle whether the
// submission was valid or not, so a typo never leaves the user stuck.
func (c *Controller) handlePlaceText(ctx context.Context, userID int64, text string) (*models.Screen, error) {
	awaiting := false
	c.sessions.Do(userID, func(s *session.Session) {
		awaiting = s.Mode == session.ModeAwaitingPlaceText
	})
	if !awaiting {
		return nil, nil
	}

	def, err := c.parsePlaceDefinition(text)
	if err != nil {
		c.sessions.Do(userID, func(s *session.Session) {
			s.Reset()
		})
		return alertScreen(fmt.Sprintf("❌ %v", err)), nil
	}

	user, err := c.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	place, err := c.store.CreatePlace(ctx, user.ID, def.Name, def.Lat, def.Lon)
	if err != nil {
		return nil, err
	}

	c.sessions.Do(userID, func(s *session.Session) {
		s.Reset()
	})

	places, err := c.store.ListPlaces(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	screen := mainMenuScreen(places)
	screen.Text = fmt.Sprintf("✅ Place %q added!", place.Name)
	return screen, nil
}

func (c *Controller) parsePlaceDefinition(text string) (*models.PlaceDefinition, error) {
	parts := strings.SplitN(text, ",", 3)
	if len(parts) != 3 {
		return nil, errors.New("expected <Name>, <latitude>, <longitude>")
	}

	name := strings.TrimSpace(parts[0])
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if latErr != nil || lonErr != nil {
		return nil, errors.New("latitude and longitude must be numbers")
	}

	def := &models.PlaceDefinition{Name: name, Lat: lat, Lon: lon}
	if err := c.validate.Struct(def); err != nil {
		return nil, errors.New("name must be 1-50 characters, latitude in [-90,90], longitude in [-180,180]")
	}
	return def, nil
}

func (c *Controller) handleSelectPlace(ctx context.Context, userID int64, placeID int64) (*models.Screen, error) {
	place, owned, err := c.ownedPlace(ctx, userID, placeID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return alertScreen("🚫 That place is not yours!"), nil
	}

	c.sessions.Do(userID, func(s *session.Session) {
		s.SetPendingCoords(place.Lat, place.Lon)
		s.SetMode(session.ModeIdle)
	})

	return forecastKindScreen(fmt.Sprintf("📍 Selected: %s", place.Name)), nil
}

// ownedPlace checks ownership against the store at call time; a place
// can be deleted between screens.
func (c *Controller) ownedPlace(ctx context.Context, userID, placeID int64) (*models.Place, bool, error) {
	user, err := c.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	place, err := c.store.GetPlace(ctx, placeID)
	if err != nil {
		if errors.Is(err, db.ErrPlaceNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if place.OwnerID != user.ID {
		return nil, false, nil
	}
	return place, true, nil
}

func (c *Controller) handleDeletePlaceStart(ctx context.Context, userID int64) (*models.Screen, error) {
	user, err := c.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	places, err := c.store.ListPlaces(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return alertScreen("❌ You have no saved places"), nil
	}

	screen := &models.Screen{Text: "Choose a place to delete:"}
	for _, p := range places {
		screen.Options = append(screen.Options, models.Option{
			Label:  "❌ " + p.Name,
			Action: PrefixDeleteConfirm + strconv.FormatInt(p.ID, 10),
		})
	}
	screen.Options = append(screen.Options, models.Option{Label: "← Back", Action: ActionMainMenu})
	return screen, nil
}

func (c *Controller) handleDeletePlaceConfirm(placeID int64) (*models.Screen, error) {
	return &models.Screen{
		Text: "Are you sure you want to delete this place?",
		Options: []models.Option{
			{Label: "✅ Yes", Action: PrefixDeleteFinal + strconv.FormatInt(placeID, 10)},
			{Label: "❌ No", Action: ActionMainMenu},
		},
	}, nil
}

func (c *Controller) handleDeletePlaceFinal(ctx context.Context, userID int64, placeID int64) (*models.Screen, error) {
	user, err := c.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	deleted, err := c.store.DeletePlace(ctx, placeID, user.ID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return &models.Screen{
			Text:    "❌ Could not delete the place",
			Options: []models.Option{{Label: "← Back", Action: ActionMainMenu}},
		}, nil
	}

	places, err := c.store.ListPlaces(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	screen := mainMenuScreen(places)
	screen.Text = "✅ Place deleted!"
	return screen, nil
}

// handleForecast serves the single-location forecast kinds against the
// session's pending coordinate. The fetch runs outside the session lock;
// if the session mutated meanwhile the result is discarded.
func (c *Controller) handleForecast(ctx context.Context, userID int64, kind string) (*models.Screen, error) {
	var (
		coords *session.Coords
		gen    uint64
	)
	c.sessions.Do(userID, func(s *session.Session) {
		coords = s.PendingCoords
		gen = s.Generation()
	})
	if coords == nil {
		return alertScreen("❌ Choose a location first!"), nil
	}

	series, err := c.source.Fetch(ctx, coords.Lat, coords.Lon)
	if err != nil {
		c.logger.Error("Forecast fetch failed", "user_id", userID, "error", err)
		// Session untouched: the user can retry the same request.
		return alertScreen("⛈ Weather service unavailable. Try again later."), nil
	}

	stale := false
	c.sessions.Do(userID, func(s *session.Session) {
		stale = s.Generation() != gen
	})
	if stale {
		c.logger.Info("Discarding stale forecast result", "user_id", userID)
		return nil, nil
	}

	var text string
	switch kind {
	case ActionForecastCurrent:
		text = weather.FormatCurrent(series)
	case ActionForecastToday:
		text = weather.FormatDaily(series, 1)
	case ActionForecast5Days:
		text = weather.FormatDaily(series, 5)
	default:
		return nil, fmt.Errorf("unknown forecast kind %q", kind)
	}

	return &models.Screen{
		Text:    text,
		Options: []models.Option{{Label: "← Back", Action: ActionMainMenu}},
	}, nil
}

func (c *Controller) handleCompareStart(ctx context.Context, userID int64) (*models.Screen, error) {
	user, err := c.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	places, err := c.store.ListPlaces(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(places) < 2 {
		// Precondition failure: stay idle, mutate nothing.
		return alertScreen("❌ You need at least two saved places to compare"), nil
	}

	var screen *models.Screen
	c.sessions.Do(userID, func(s *session.Session) {
		s.Reset()
		s.SetMode(session.ModeSelectingPlaces)
		screen = comparePlacesScreen(places, s)
	})
	return screen, nil
}

func (c *Controller) handleComparePlaceToggle(ctx context.Context, userID int64, placeID int64) (*models.Screen, error) {
	selecting := false
	c.sessions.Do(userID, func(s *session.Session) {
		selecting = s.Mode == session.ModeSelectingPlaces
	})
	if !selecting {
		return alertScreen("❌ The selection has expired. Start the comparison again."), nil
	}

	// Ownership is re-checked at toggle time; the place may have been
	// deleted since the selection screen was built.
	place, owned, err := c.ownedPlace(ctx, userID, placeID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return alertScreen("🚫 That place is not yours!"), nil
	}

	user, err := c.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	places, err := c.store.ListPlaces(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	var screen *models.Screen
	c.sessions.Do(userID, func(s *session.Session) {
		if s.Mode != session.ModeSelectingPlaces {
			screen = alertScreen("❌ The selection has expired. Start the comparison again.")
			return
		}
		s.TogglePlace(*place)
		screen = comparePlacesScreen(places, s)
	})
	return screen, nil
}

// handleCompareContinue moves from place selection to day selection,
// fetching the selectable day window from the first selected place.
func (c *Controller) handleCompareContinue(ctx context.Context, userID int64) (*models.Screen, error) {
	var (
		selected []models.Place
		gen      uint64
		ok       bool
	)
	c.sessions.Do(userID, func(s *session.Session) {
		if s.Mode != session.ModeSelectingPlaces {
			return
		}
		selected = s.SelectedPlaces()
		gen = s.Generation()
		ok = true
	})
	if !ok {
		return alertScreen("❌ The selection has expired. Start the comparison again."), nil
	}
	if len(selected) < 2 {
		return alertScreen("❌ Select at least two places"), nil
	}

	window, err := c.engine.DayWindow(ctx, selected[0])
	if err != nil {
		c.logger.Error("Day window fetch failed", "user_id", userID, "error", err)
		// Comparison sessions are not auto-resumed after a source failure.
		c.sessions.Do(userID, func(s *session.Session) {
			s.Reset()
		})
		return alertScreen("⛈ Weather service unavailable. Try again later."), nil
	}

	var screen *models.Screen
	c.sessions.Do(userID, func(s *session.Session) {
		if s.Generation() != gen {
			return
		}
		s.SetDayWindow(window)
		s.SetMode(session.ModeSelectingDays)
		screen = compareDaysScreen(window, s)
	})
	if screen == nil {
		c.logger.Info("Discarding stale day window", "user_id", userID)
	}
	return screen, nil
}

func (c *Controller) handleCompareDayToggle(userID int64, date string) (*models.Screen, error) {
	var screen *models.Screen
	c.sessions.Do(userID, func(s *session.Session) {
		if s.Mode != session.ModeSelectingDays {
			screen = alertScreen("❌ The selection has expired. Start the comparison again.")
			return
		}
		window := s.DayWindow()
		if !containsDate(window, date) {
			screen = alertScreen("❌ That day is not selectable")
			return
		}
		s.ToggleDay(date)
		screen = compareDaysScreen(window, s)
	})
	return screen, nil
}

// handleCompareExecute runs the comparison. Both selection sets are
// cleared before the fetches start, so the outcome cannot land on a
// stale selection.
func (c *Controller) handleCompareExecute(ctx context.Context, userID int64) (*models.Screen, error) {
	var (
		places    []models.Place
		days      []string
		selecting bool
		ok        bool
	)
	c.sessions.Do(userID, func(s *session.Session) {
		if s.Mode != session.ModeSelectingDays {
			return
		}
		selecting = true
		days = s.SelectedDays()
		if len(days) == 0 {
			// Precondition failure: reject before any external call,
			// leaving the selection intact.
			return
		}
		places = s.SelectedPlaces()
		s.Reset()
		ok = true
	})
	if !ok {
		if selecting {
			return alertScreen("❌ Select at least one day"), nil
		}
		return alertScreen("❌ The selection has expired. Start the comparison again."), nil
	}

	report, err := c.engine.Compare(ctx, places, days)
	if err != nil {
		c.logger.Error("Comparison failed", "user_id", userID, "error", err)
		return alertScreen(fmt.Sprintf("⛈ Comparison failed: %s", failedPlace(err))), nil
	}

	text, err := c.engine.Render(report, places)
	if err != nil {
		if errors.Is(err, compare.ErrReportTooLarge) {
			return &models.Screen{
				Text:    "⚠️ The report is too large to send. Narrow your selection of places or days.",
				Options: []models.Option{{Label: "← Back", Action: ActionMainMenu}},
			}, nil
		}
		return nil, err
	}

	return &models.Screen{
		Text:    text,
		Options: []models.Option{{Label: "← Back", Action: ActionMainMenu}},
	}, nil
}

// failedPlace extracts the engine's fetch-for-place prefix for the user
// alert, falling back to a generic notice.
func failedPlace(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx > 0 && strings.HasPrefix(msg, "fetch for ") {
		return msg[:idx]
	}
	return "weather service unavailable"
}

func containsDate(dates []string, date string) bool {
	for _, d := range dates {
		if d == date {
			return true
		}
	}
	return false
}

func mainMenuScreen(places []models.Place) *models.Screen {
	screen := &models.Screen{Text: "🌤 Choose an action:"}
	for _, p := range places {
		screen.Options = append(screen.Options, models.Option{
			Label:  "📍 " + p.Name,
			Action: PrefixPlace + strconv.FormatInt(p.ID, 10),
		})
	}
	screen.Options = append(screen.Options,
		models.Option{Label: "➕ Add place", Action: ActionAddPlace},
		models.Option{Label: "🗑 Delete place", Action: ActionDeletePlace},
		models.Option{Label: "📊 Compare places", Action: ActionCompare},
		models.Option{Label: "🌤 Current location", Action: ActionCurrentLocation},
	)
	return screen
}

func forecastKindScreen(text string) *models.Screen {
	return &models.Screen{
		Text: text,
		Options: []models.Option{
			{Label: "Now", Action: ActionForecastCurrent},
			{Label: "Today", Action: ActionForecastToday},
			{Label: "5 days", Action: ActionForecast5Days},
			{Label: "← Back", Action: ActionMainMenu},
		},
	}
}

func comparePlacesScreen(places []models.Place, s *session.Session) *models.Screen {
	screen := &models.Screen{Text: "Select at least two places to compare:"}
	for _, p := range places {
		mark := "⬜️"
		if s.HasPlace(p.ID) {
			mark = "☑️"
		}
		screen.Options = append(screen.Options, models.Option{
			Label:  mark + " " + p.Name,
			Action: PrefixComparePlace + strconv.FormatInt(p.ID, 10),
		})
	}
	screen.Options = append(screen.Options,
		models.Option{Label: "➡️ Continue", Action: ActionCompareContinue},
		models.Option{Label: "← Back", Action: ActionMainMenu},
	)
	return screen
}

func compareDaysScreen(window []string, s *session.Session) *models.Screen {
	screen := &models.Screen{Text: "Select days to compare:"}
	for _, date := range window {
		mark := "⬜️"
		if s.HasDay(date) {
			mark = "☑️"
		}
		screen.Options = append(screen.Options, models.Option{
			Label:  fmt.Sprintf("%s %s (%s)", mark, dayLabel(date), date),
			Action: PrefixCompareDay + date,
		})
	}
	screen.Options = append(screen.Options,
		models.Option{Label: "✅ Compare", Action: ActionCompareExecute},
		models.Option{Label: "← Back", Action: ActionMainMenu},
	)
	return screen
}

func dayLabel(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "?"
	}
	return t.Format("Mon")
}

func alertScreen(text string) *models.Screen {
	return &models.Screen{Text: text, Alert: true}
}
