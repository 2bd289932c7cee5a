package netmon

// Manual is a monitor whose state is set explicitly.
type Manual struct {
	state *transitions
}

// NewManual returns a manual monitor starting in the given state.
func NewManual(online bool) *Manual {
	return &Manual{state: newTransitions(online)}
}

// Online reports the current state.
func (m *Manual) Online() bool {
	return m.state.current()
}

// OnTransition registers fn for state changes.
func (m *Manual) OnTransition(fn func(online bool)) func() {
	return m.state.subscribe(fn)
}

// Set changes the state and reports whether it differed. Subscribers are
// called before Set returns.
func (m *Manual) Set(online bool) bool {
	return m.state.set(online)
}
