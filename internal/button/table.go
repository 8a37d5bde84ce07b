package button

// State is a state of the per-channel press machine.
type State uint8

const (
	// Stable states.
	StateIdle State = iota
	StatePressAfter
	StateHolding

	// Debounce-wait states.
	StatePressPre
	StateShortReleaseWait
	StateLongReleaseWait

	// Transient states: a raw level change was seen.
	StatePress
	StateShortRelease
	StateLongRelease

	// Transient states: a change was confirmed.
	StatePressed
	StateLongPressed
	StateShortReleased
	StateLongReleased

	numStates
)

var stateNames = [numStates]string{
	StateIdle:             "IDLE",
	StatePressAfter:       "PRESS_AFTER",
	StateHolding:          "HOLDING",
	StatePressPre:         "PRESS_PRE",
	StateShortReleaseWait: "SHORT_RELEASE_WAIT",
	StateLongReleaseWait:  "LONG_RELEASE_WAIT",
	StatePress:            "PRESS",
	StateShortRelease:     "SHORT_RELEASE",
	StateLongRelease:      "LONG_RELEASE",
	StatePressed:          "PRESSED",
	StateLongPressed:      "LONG_PRESSED",
	StateShortReleased:    "SHORT_RELEASED",
	StateLongReleased:     "LONG_RELEASED",
}

func (s State) String() string {
	if s >= numStates {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s < numStates
}

// Transient reports whether s lasts for a single poll only.
func (s State) Transient() bool {
	return s >= StatePress && s < numStates
}

// Event returns the observable event announced by s, or EventNone.
func (s State) Event() Event {
	switch s {
	case StatePressed:
		return EventPressed
	case StateLongPressed:
		return EventLongPressed
	case StateShortReleased:
		return EventShortReleased
	case StateLongReleased:
		return EventLongReleased
	}
	return EventNone
}

// Phase maps s to the phase it is reported as. Debounce-wait states report
// their parent phase.
func (s State) Phase() Phase {
	switch s {
	case StatePressAfter, StateShortReleaseWait:
		return PhaseShortPressed
	case StateHolding, StateLongReleaseWait:
		return PhaseLongPressed
	}
	return PhaseIdle
}

// Situation indexes the columns of the transition table.
type Situation uint8

const (
	SituationReleased Situation = iota
	SituationPressed
	SituationReleasedElapsed
	SituationPressedElapsed

	numSituations
)

// SituationOf combines the two facts sampled on each poll.
func SituationOf(pressed, elapsed bool) Situation {
	var s Situation
	if pressed {
		s++
	}
	if elapsed {
		s += 2
	}
	return s
}

// transitions is indexed by [current state][situation].
var transitions = [numStates][numSituations]State{
	//                     released               pressed            released+elapsed       pressed+elapsed
	StateIdle:             {StateIdle, StatePress, StateIdle, StatePress},
	StatePressAfter:       {StateShortRelease, StatePressAfter, StateShortRelease, StateLongPressed},
	StateHolding:          {StateLongRelease, StateHolding, StateLongRelease, StateHolding},
	StatePressPre:         {StateIdle, StatePressPre, StateIdle, StatePressed},
	StateShortReleaseWait: {StateShortReleaseWait, StatePressAfter, StateShortReleased, StatePressAfter},
	StateLongReleaseWait:  {StateLongReleaseWait, StateHolding, StateLongReleased, StateHolding},
	StatePress:            {StatePressPre, StatePressPre, StatePressPre, StatePressPre},
	StateShortRelease:     {StateShortReleaseWait, StateShortReleaseWait, StateShortReleaseWait, StateShortReleaseWait},
	StateLongRelease:      {StateLongReleaseWait, StateLongReleaseWait, StateLongReleaseWait, StateLongReleaseWait},
	StatePressed:          {StatePressAfter, StatePressAfter, StatePressAfter, StatePressAfter},
	StateLongPressed:      {StateHolding, StateHolding, StateHolding, StateHolding},
	StateShortReleased:    {StateIdle, StateIdle, StateIdle, StateIdle},
	StateLongReleased:     {StateIdle, StateIdle, StateIdle, StateIdle},
}

// Next returns the successor of s in the given situation.
func Next(s State, sit Situation) State {
	return transitions[s][sit]
}
