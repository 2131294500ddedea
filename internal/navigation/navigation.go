// Package navigation tracks which screen a session is on and guards access
// to the advice screen.
package navigation

import (
	"errors"
	"fmt"
)

// Screen identifies one of the three pages.
type Screen string

const (
	ScreenAbout    Screen = "about"
	ScreenDetector Screen = "detector"
	ScreenAdvice   Screen = "advice"

	// ScreenAdviceLocked is never stored; it is the view rendered in place of
	// the advice screen while advice is not unlocked.
	ScreenAdviceLocked Screen = "advice_locked"
)

// ErrUnknownScreen is returned when navigating to a screen that does not exist.
var ErrUnknownScreen = errors.New("unknown screen")

var titles = map[Screen]string{
	ScreenAbout:        "About Pneumonia",
	ScreenDetector:     "Pneumonia Detector",
	ScreenAdvice:       "What to do if Pneumonia",
	ScreenAdviceLocked: "What to do if Pneumonia",
}

// ParseScreen validates a screen identifier.
func ParseScreen(s string) (Screen, error) {
	switch Screen(s) {
	case ScreenAbout, ScreenDetector, ScreenAdvice:
		return Screen(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScreen, s)
}

// Title returns the display title.
func (s Screen) Title() string {
	return titles[s]
}

// State is the per-session navigation state.
type State struct {
	Active         Screen `json:"active"`
	AdviceUnlocked bool   `json:"advice_unlocked"`
}

// NewState returns the initial state: About, advice locked.
func NewState() State {
	return State{Active: ScreenAbout}
}

// Navigate records a user selection. Advice may be selected while locked;
// Resolve redirects it.
func (s *State) Navigate(to Screen) error {
	if _, err := ParseScreen(string(to)); err != nil {
		return err
	}
	s.Active = to
	return nil
}

// ApplyDecision mirrors the latest decision's advice flag.
func (s *State) ApplyDecision(showAdvice bool) {
	s.AdviceUnlocked = showAdvice
}

// CanEnter is the guard evaluated at navigation time.
func (s State) CanEnter(to Screen) bool {
	if to == ScreenAdvice {
		return s.AdviceUnlocked
	}
	_, err := ParseScreen(string(to))
	return err == nil
}

// Control is a navigation button.
type Control struct {
	Label  string `json:"label"`
	Target Screen `json:"target"`
}

// View is the resolved screen to render.
type View struct {
	Screen   Screen    `json:"screen"`
	Title    string    `json:"title"`
	Notice   string    `json:"notice,omitempty"`
	Controls []Control `json:"controls"`
	Options  []Screen  `json:"options"`
}

const (
	lockedNotice = "This section is only available if a potential pneumonia case is detected."
	lockedHint   = "Please go to the 'Pneumonia Detector' section to upload an image."
)

// Resolve applies the advice guard and returns what should be rendered.
// A locked advice selection is redirected to the detector so that the next
// render lands there.
func (s *State) Resolve() View {
	// Empty or unrecognized stored selections start over on About.
	if _, err := ParseScreen(string(s.Active)); err != nil {
		s.Active = ScreenAbout
	}

	view := View{Screen: s.Active, Title: s.Active.Title(), Options: s.Options()}
	switch s.Active {
	case ScreenAbout:
		view.Controls = []Control{goTo(ScreenDetector)}
	case ScreenDetector:
		view.Controls = []Control{goTo(ScreenAbout)}
		if s.AdviceUnlocked {
			view.Controls = append(view.Controls, goTo(ScreenAdvice))
		}
	case ScreenAdvice:
		if !s.CanEnter(ScreenAdvice) {
			s.Active = ScreenDetector
			view.Screen = ScreenAdviceLocked
			view.Title = ScreenAdviceLocked.Title()
			view.Notice = lockedNotice + " " + lockedHint
		}
		view.Controls = []Control{goTo(ScreenDetector)}
	}
	return view
}

// Options lists the screens offered in the sidebar.
func (s State) Options() []Screen {
	options := []Screen{ScreenAbout, ScreenDetector}
	if s.AdviceUnlocked {
		options = append(options, ScreenAdvice)
	}
	return options
}

func goTo(target Screen) Control {
	return Control{Label: "Go to " + target.Title(), Target: target}
}
