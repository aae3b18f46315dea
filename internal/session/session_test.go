package session

import (
	"sync"
	"testing"
	"time"

	"weather-bot/internal/models"
)

func TestTogglePlace_PairIsIdempotent(t *testing.T) {
	s := newSession()
	s.SetMode(ModeSelectingPlaces)

	home := models.Place{ID: 1, Name: "Home"}
	dacha := models.Place{ID: 2, Name: "Dacha"}

	s.TogglePlace(home)
	before := s.SelectedPlaces()

	if added := s.TogglePlace(dacha); !added {
		t.Fatal("first toggle should add the place")
	}
	if added := s.TogglePlace(dacha); added {
		t.Fatal("second toggle should remove the place")
	}

	after := s.SelectedPlaces()
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Errorf("toggling twice changed the selection: before %v, after %v", before, after)
	}
}

func TestTogglePlace_KeepsSelectionOrder(t *testing.T) {
	s := newSession()
	s.TogglePlace(models.Place{ID: 3, Name: "C"})
	s.TogglePlace(models.Place{ID: 1, Name: "A"})
	s.TogglePlace(models.Place{ID: 2, Name: "B"})

	got := s.SelectedPlaces()
	want := []string{"C", "A", "B"}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("selection order = %v, want C, A, B", got)
		}
	}
}

func TestToggleDay(t *testing.T) {
	s := newSession()

	s.ToggleDay("2024-01-02")
	s.ToggleDay("2024-01-01")
	if days := s.SelectedDays(); len(days) != 2 || days[0] != "2024-01-01" {
		t.Errorf("SelectedDays() = %v, want ascending [2024-01-01 2024-01-02]", days)
	}

	s.ToggleDay("2024-01-02")
	if s.HasDay("2024-01-02") {
		t.Error("second toggle should deselect the day")
	}
}

func TestReset_DiscardsSelectionsKeepsCoords(t *testing.T) {
	s := newSession()
	s.SetPendingCoords(55.7558, 37.6176)
	s.SetMode(ModeSelectingDays)
	s.TogglePlace(models.Place{ID: 1})
	s.ToggleDay("2024-01-01")
	s.SetDayWindow([]string{"2024-01-01"})

	s.Reset()

	if s.Mode != ModeIdle {
		t.Errorf("Mode = %v after reset, want idle", s.Mode)
	}
	if len(s.SelectedPlaces()) != 0 || len(s.SelectedDays()) != 0 || len(s.DayWindow()) != 0 {
		t.Error("reset should discard all accumulated selections")
	}
	if s.PendingCoords == nil || s.PendingCoords.Lat != 55.7558 {
		t.Error("reset should keep the pending coordinate")
	}
}

func TestGeneration_BumpsOnEveryMutation(t *testing.T) {
	s := newSession()
	gen := s.Generation()

	s.SetMode(ModeAwaitingPlaceText)
	if s.Generation() == gen {
		t.Error("SetMode should change the generation")
	}

	gen = s.Generation()
	s.TogglePlace(models.Place{ID: 1})
	if s.Generation() == gen {
		t.Error("TogglePlace should change the generation")
	}
}

func TestStore_SerializesPerUser(t *testing.T) {
	st := NewStore(time.Hour)
	place := models.Place{ID: 1}

	// Concurrent read-modify-write toggle pairs must not lose updates:
	// an even number of toggles always nets out to an empty selection.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Do(42, func(s *Session) { s.TogglePlace(place) })
			st.Do(42, func(s *Session) { s.TogglePlace(place) })
		}()
	}
	wg.Wait()

	st.Do(42, func(s *Session) {
		if n := len(s.SelectedPlaces()); n != 0 {
			t.Errorf("selection has %d places after paired toggles, want 0", n)
		}
	})
}

func TestStore_SweepEvictsIdleSessions(t *testing.T) {
	st := NewStore(10 * time.Millisecond)

	st.Do(1, func(s *Session) { s.SetMode(ModeAwaitingPlaceText) })
	time.Sleep(20 * time.Millisecond)
	st.Do(2, func(s *Session) {})

	if removed := st.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d sessions, want 1", removed)
	}

	// The evicted user gets a fresh idle session on next contact.
	st.Do(1, func(s *Session) {
		if s.Mode != ModeIdle {
			t.Errorf("Mode = %v after eviction, want idle", s.Mode)
		}
	})
}
