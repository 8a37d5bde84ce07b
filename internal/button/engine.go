package button

// Step advances one channel by a single poll and returns what the caller
// should observe. It mutates rt only.
//
// The table is walked until the machine rests. A transient state is resolved
// on the poll it is entered: its timer is armed, it moves to its fixed
// follow-up, and if it announces an event the walk stops there. With a zero
// debounce the wait state finds its timer already elapsed on the same poll,
// so presses and releases are reported without an extra tick. A wait state
// that falls back to its stable parent ends the walk; the parent is only
// evaluated on the next poll.
func Step(cfg *Config, rt *Runtime, level Level, now Ticks) Result {
	if !cfg.Enabled {
		return Result{Event: EventNone, Phase: PhaseDisabled}
	}
	if !rt.State.Valid() {
		rt.State = StateIdle
	}

	pressed := level != cfg.NormalLevel

	for i := 0; i < int(numStates); i++ {
		cur := rt.State
		sit := SituationOf(pressed, expired(cfg, rt, cur, now))

		if cur.Transient() {
			arm(rt, cur, now)
			rt.State = transitions[cur][sit]
			if ev := cur.Event(); ev != EventNone {
				return Result{Event: ev, Phase: rt.State.Phase()}
			}
			continue
		}

		next := transitions[cur][sit]
		rt.State = next
		if !next.Transient() {
			break
		}
	}

	return Result{Event: EventNone, Phase: rt.State.Phase()}
}

// expired reports whether the timer that governs s has run out. States
// without a timer never expire.
func expired(cfg *Config, rt *Runtime, s State, now Ticks) bool {
	switch s {
	case StatePressPre, StateShortReleaseWait, StateLongReleaseWait:
		return Elapsed(now, rt.DebounceAnchor) >= cfg.Debounce
	case StatePressAfter:
		return Elapsed(now, rt.LongPressAnchor) >= cfg.LongPress
	}
	return false
}

// arm starts the timer of the phase that follows transient state s.
func arm(rt *Runtime, s State, now Ticks) {
	switch s {
	case StatePress, StateShortRelease, StateLongRelease:
		rt.DebounceAnchor = now
	case StatePressed:
		rt.LongPressAnchor = now
	}
}
