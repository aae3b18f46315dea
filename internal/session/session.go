package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"weather-bot/internal/models"
)

// Mode is the interaction state of one user's session.
type Mode string

const (
	ModeIdle              Mode = "idle"
	ModeAwaitingPlaceText Mode = "awaiting_place_text"
	ModeAwaitingLocation  Mode = "awaiting_location"
	ModeSelectingPlaces   Mode = "selecting_places"
	ModeSelectingDays     Mode = "selecting_days"
)

type Coords struct {
	Lat float64
	Lon float64
}

// Session is the transient per-user interaction state. It is only ever
// accessed through Store.Do, which serializes events for one user.
type Session struct {
	Mode          Mode
	PendingCoords *Coords

	// selectedPlaces keeps selection order; the comparison report lists
	// places in the order the user picked them.
	selectedPlaces []models.Place
	selectedDays   map[string]struct{}

	// dayWindow holds the selectable dates offered while picking
	// comparison days.
	dayWindow []string

	generation  uint64
	lastTouched time.Time
}

func newSession() *Session {
	return &Session{
		Mode:         ModeIdle,
		selectedDays: make(map[string]struct{}),
	}
}

// Generation changes on every mutation. A snapshot taken before an
// external fetch is compared afterwards; a mismatch means the session
// moved on and the fetch result must be discarded.
func (s *Session) Generation() uint64 {
	return s.generation
}

func (s *Session) SetMode(mode Mode) {
	s.Mode = mode
	s.generation++
}

func (s *Session) SetPendingCoords(lat, lon float64) {
	s.PendingCoords = &Coords{Lat: lat, Lon: lon}
	s.generation++
}

// Reset returns the session to the main menu, discarding accumulated
// selections. The pending coordinate survives so a follow-up forecast
// request still has a target.
func (s *Session) Reset() {
	s.Mode = ModeIdle
	s.selectedPlaces = nil
	s.selectedDays = make(map[string]struct{})
	s.dayWindow = nil
	s.generation++
}

// ClearSelections drops both selection sets without touching the mode.
func (s *Session) ClearSelections() {
	s.selectedPlaces = nil
	s.selectedDays = make(map[string]struct{})
	s.dayWindow = nil
	s.generation++
}

func (s *Session) SetDayWindow(dates []string) {
	s.dayWindow = append([]string(nil), dates...)
	s.generation++
}

func (s *Session) DayWindow() []string {
	out := make([]string, len(s.dayWindow))
	copy(out, s.dayWindow)
	return out
}

// TogglePlace adds the place to the selection or removes it if already
// selected. Reports whether the place is selected afterwards.
func (s *Session) TogglePlace(place models.Place) bool {
	for i, p := range s.selectedPlaces {
		if p.ID == place.ID {
			s.selectedPlaces = append(s.selectedPlaces[:i], s.selectedPlaces[i+1:]...)
			s.generation++
			return false
		}
	}
	s.selectedPlaces = append(s.selectedPlaces, place)
	s.generation++
	return true
}

func (s *Session) HasPlace(id int64) bool {
	for _, p := range s.selectedPlaces {
		if p.ID == id {
			return true
		}
	}
	return false
}

// SelectedPlaces returns the selection in the order it was made.
func (s *Session) SelectedPlaces() []models.Place {
	out := make([]models.Place, len(s.selectedPlaces))
	copy(out, s.selectedPlaces)
	return out
}

// ToggleDay adds or removes an ISO date from the day selection.
// Reports whether the day is selected afterwards.
func (s *Session) ToggleDay(date string) bool {
	if _, ok := s.selectedDays[date]; ok {
		delete(s.selectedDays, date)
		s.generation++
		return false
	}
	s.selectedDays[date] = struct{}{}
	s.generation++
	return true
}

func (s *Session) HasDay(date string) bool {
	_, ok := s.selectedDays[date]
	return ok
}

// SelectedDays returns the chosen dates ascending.
func (s *Session) SelectedDays() []string {
	out := make([]string, 0, len(s.selectedDays))
	for d := range s.selectedDays {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

// Store holds one session per Telegram user id. Events for the same
// user are serialized through the per-user mutex; distinct users do not
// contend.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*entry
	ttl      time.Duration
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[int64]*entry),
		ttl:      ttl,
	}
}

// Do runs fn with the user's session under that user's lock, creating
// the session on first use.
func (st *Store) Do(userID int64, fn func(*Session)) {
	st.mu.Lock()
	e, ok := st.sessions[userID]
	if !ok {
		e = &entry{s: newSession()}
		st.sessions[userID] = e
	}
	st.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.lastTouched = time.Now()
	fn(e.s)
}

// Sweep drops sessions idle for longer than the TTL. Sessions currently
// handling an event are skipped.
func (st *Store) Sweep() int {
	if st.ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-st.ttl)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, e := range st.sessions {
		if !e.mu.TryLock() {
			continue
		}
		idle := e.s.lastTouched.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper periodically evicts idle sessions until ctx is done.
func (st *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.Sweep()
			}
		}
	}()
}
