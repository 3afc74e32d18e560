package review

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Choice is the reviewer decision for one tool.
type Choice string

const (
	Unset     Choice = ""
	Allow     Choice = "allow"
	Deny      Choice = "deny"
	Malicious Choice = "malicious"
	Ignore    Choice = "ignore"
)

var (
	// ErrNothingToAllow reports a bulk allow with no visible Unset tool.
	ErrNothingToAllow = errors.New("all visible tools have already been reviewed")
	// ErrNotConfirmed reports a bulk allow the reviewer declined.
	ErrNotConfirmed = errors.New("bulk allow was not confirmed")
)

// ParseChoice accepts allow, deny, malicious, ignore and the empty string.
func ParseChoice(raw string) (Choice, error) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(raw))); c {
	case Unset, Allow, Deny, Malicious, Ignore:
		return c, nil
	default:
		return Unset, fmt.Errorf("invalid review choice %q", raw)
	}
}

// Next returns the state reached from current when choice is selected:
// selecting the current choice again clears it.
func Next(current, choice Choice) Choice {
	if current == choice {
		return Unset
	}
	return choice
}

// Confirmer approves a bulk transition of n tools.
type Confirmer func(n int) bool

// State holds the decisions of one review session. Callers must serialize
// mutations; a State is not safe for concurrent use.
type State struct {
	choices map[string]Choice
}

// NewState returns an empty review session.
func NewState() *State {
	return &State{choices: make(map[string]Choice)}
}

// FromChoices builds a State from a name -> choice payload.
func FromChoices(raw map[string]string) (*State, error) {
	s := NewState()
	for name, value := range raw {
		choice, err := ParseChoice(value)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		if choice != Unset {
			s.choices[name] = choice
		}
	}
	return s, nil
}

// Choice returns the current decision for name.
func (s *State) Choice(name string) Choice {
	return s.choices[name]
}

// SetChoice applies the toggle transition for name and returns the new state.
func (s *State) SetChoice(name string, choice Choice) (Choice, error) {
	if _, err := ParseChoice(string(choice)); err != nil {
		return s.Choice(name), err
	}
	next := Next(s.choices[name], choice)
	if next == Unset {
		delete(s.choices, name)
	} else {
		s.choices[name] = next
	}
	return next, nil
}

// Reset returns every tool to Unset.
func (s *State) Reset() {
	clear(s.choices)
}

// UnsetAmong returns the names in visible that have no decision yet.
func (s *State) UnsetAmong(visible []string) []string {
	seen := make(map[string]struct{}, len(visible))
	out := make([]string, 0, len(visible))
	for _, name := range visible {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if s.choices[name] == Unset {
			out = append(out, name)
		}
	}
	return out
}

// AllowUnset moves every Unset name in visible to Allow once confirm approves
// the count. Names already decided are left untouched.
func (s *State) AllowUnset(visible []string, confirm Confirmer) (int, error) {
	eligible := s.UnsetAmong(visible)
	if len(eligible) == 0 {
		return 0, ErrNothingToAllow
	}
	if confirm == nil || !confirm(len(eligible)) {
		return 0, ErrNotConfirmed
	}
	for _, name := range eligible {
		s.choices[name] = Allow
	}
	return len(eligible), nil
}

// Reviewed is the number of tools with a decision.
func (s *State) Reviewed() int {
	return len(s.choices)
}

// Choices returns a copy of the non-Unset decisions.
func (s *State) Choices() map[string]Choice {
	return maps.Clone(s.choices)
}

// Progress summarizes coverage of names.
type Progress struct {
	Reviewed int
	Total    int
}

// Complete reports whether every tool has a decision.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Reviewed == p.Total
}

func (p Progress) String() string {
	return fmt.Sprintf("%d of %d tools reviewed", p.Reviewed, p.Total)
}

// Progress counts decisions among names; decisions for names outside the
// inventory are not counted.
func (s *State) Progress(names []string) Progress {
	p := Progress{}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		p.Total++
		if s.choices[name] != Unset {
			p.Reviewed++
		}
	}
	return p
}
