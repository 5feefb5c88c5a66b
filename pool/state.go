package pool

import (
	"fmt"
	"strings"
)

type State uint8

const (
	Open State = iota
	Staking
	Active
	Dismissed
	Failed
)

var stateNames = [...]string{"Open", "Staking", "Active", "Dismissed", "Failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether s is an absorbing state.
func (s State) Terminal() bool {
	return s == Dismissed || s == Failed
}

// AcceptsContributions reports whether new positions may be opened in state s.
func (s State) AcceptsContributions() bool {
	return s == Open || s == Staking
}

func (s State) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("unknown pool state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, n := range stateNames {
		if strings.EqualFold(n, string(text)) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pool state %q", text)
}

// transition returns the error for an illegal move from s to next, nil when the move is allowed.
func (s State) transition(next State) error {
	if s.Terminal() {
		return fmt.Errorf("%w: pool is %s", ErrPoolTerminated, s)
	}
	switch next {
	case Staking:
		if s == Open {
			return nil
		}
	case Active:
		if s == Staking {
			return nil
		}
	case Dismissed:
		if s == Active {
			return nil
		}
	case Failed:
		return nil
	}
	return fmt.Errorf("%w: cannot move from %s to %s", ErrWrongState, s, next)
}
