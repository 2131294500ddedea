package navigation

import (
	"errors"
	"testing"
)

func TestNewStateStartsOnAbout(t *testing.T) {
	s := NewState()
	if s.Active != ScreenAbout || s.AdviceUnlocked {
		t.Fatalf("unexpected initial state: %+v", s)
	}
}

func TestNavigateRejectsUnknownScreen(t *testing.T) {
	s := NewState()
	err := s.Navigate("settings")
	if !errors.Is(err, ErrUnknownScreen) {
		t.Fatalf("expected ErrUnknownScreen, got %v", err)
	}
	if s.Active != ScreenAbout {
		t.Fatalf("state changed after failed navigation: %+v", s)
	}
}

func TestLockedAdviceRedirectsToDetector(t *testing.T) {
	s := NewState()
	if err := s.Navigate(ScreenAdvice); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := s.Resolve()
	if view.Screen != ScreenAdviceLocked {
		t.Fatalf("expected locked fallback view, got %s", view.Screen)
	}
	if view.Notice == "" {
		t.Fatal("expected fallback notice")
	}
	if len(view.Controls) != 1 || view.Controls[0].Target != ScreenDetector {
		t.Fatalf("expected single control to detector, got %+v", view.Controls)
	}
	if s.Active != ScreenDetector {
		t.Fatalf("expected redirect to detector, got %s", s.Active)
	}

	next := s.Resolve()
	if next.Screen != ScreenDetector {
		t.Fatalf("expected detector on next render, got %s", next.Screen)
	}
}

func TestUnlockedAdviceRenders(t *testing.T) {
	s := NewState()
	s.ApplyDecision(true)
	if err := s.Navigate(ScreenAdvice); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view := s.Resolve()
	if view.Screen != ScreenAdvice || view.Notice != "" {
		t.Fatalf("expected advice content, got %+v", view)
	}
}

func TestAdviceFlagStableAcrossNavigation(t *testing.T) {
	s := NewState()
	s.ApplyDecision(true)
	for _, to := range []Screen{ScreenAbout, ScreenDetector, ScreenAdvice, ScreenAbout} {
		if err := s.Navigate(to); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		s.Resolve()
		if !s.AdviceUnlocked {
			t.Fatalf("advice flag reset after navigating to %s", to)
		}
	}

	s.ApplyDecision(false)
	if s.CanEnter(ScreenAdvice) {
		t.Fatal("expected advice to be locked after normal decision")
	}
}

func TestOptionsAndControlsFollowFlag(t *testing.T) {
	s := NewState()
	if err := s.Navigate(ScreenDetector); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	locked := s.Resolve()
	if len(locked.Options) != 2 {
		t.Fatalf("expected two options while locked, got %v", locked.Options)
	}
	if len(locked.Controls) != 1 {
		t.Fatalf("expected only the about control, got %+v", locked.Controls)
	}

	s.ApplyDecision(true)
	unlocked := s.Resolve()
	if len(unlocked.Options) != 3 || unlocked.Options[2] != ScreenAdvice {
		t.Fatalf("expected advice option, got %v", unlocked.Options)
	}
	if len(unlocked.Controls) != 2 || unlocked.Controls[1].Target != ScreenAdvice {
		t.Fatalf("expected advice control, got %+v", unlocked.Controls)
	}
}

func TestCanEnter(t *testing.T) {
	s := NewState()
	if !s.CanEnter(ScreenAbout) || !s.CanEnter(ScreenDetector) {
		t.Fatal("expected about and detector to be reachable")
	}
	if s.CanEnter(ScreenAdvice) {
		t.Fatal("expected advice to be locked")
	}
	if s.CanEnter("nowhere") {
		t.Fatal("expected unknown screen to be unreachable")
	}
}

func TestResolveResetsUnrecognizedStoredScreen(t *testing.T) {
	s := State{Active: "settings", AdviceUnlocked: true}
	view := s.Resolve()
	if s.Active != ScreenAbout || view.Screen != ScreenAbout {
		t.Fatalf("expected reset to about, got state %+v view %+v", s, view)
	}
	if view.Title != ScreenAbout.Title() {
		t.Fatalf("unexpected title: %q", view.Title)
	}
	if len(view.Controls) != 1 || view.Controls[0].Target != ScreenDetector {
		t.Fatalf("expected detector control, got %+v", view.Controls)
	}
	if !s.AdviceUnlocked {
		t.Fatal("advice flag should survive the reset")
	}
}
