// Copyright 2026 The Panel Engine Authors

// Package rotation owns RotationState: the cursor into available_modes
// that advances once per normal-rotation iteration.
package rotation

// State is the Run Loop's exclusively-owned rotation cursor.
type State struct {
	Index       int
	ResumeIndex int
}

// Current returns the mode Index points at, or "" if modes is empty.
func (s *State) Current(modes []string) string {
	if len(modes) == 0 || s.Index < 0 || s.Index >= len(modes) {
		return ""
	}
	return modes[s.Index]
}

// Advance moves the cursor to the next mode, wrapping modulo len(modes).
// A crash-caused failure skips every mode owned by the same plugin this
// round instead of advancing by one; see SkipPlugin.
func (s *State) Advance(modes []string) {
	if len(modes) == 0 {
		s.Index = 0
		return
	}
	s.Index = (s.Index + 1) % len(modes)
}

// SkipPlugin advances past every mode in modes owned by pluginID, used
// when the current slice ended in a plugin failure so a crashing plugin's
// other modes are not rendered in the same round. ownerOf maps a mode
// name to its owning plugin id.
func (s *State) SkipPlugin(modes []string, pluginID string, ownerOf func(mode string) string) {
	if len(modes) == 0 {
		s.Index = 0
		return
	}
	start := s.Index
	for i := 0; i < len(modes); i++ {
		next := (s.Index + 1) % len(modes)
		s.Index = next
		if ownerOf(modes[next]) != pluginID {
			return
		}
		if s.Index == start {
			return
		}
	}
}

// ClampToLen keeps Index in bounds after available_modes shrinks (e.g. a
// plugin disabled mid-run), matching the invariant that RotationState.index
// is always a valid subscript into available_modes.
func (s *State) ClampToLen(n int) {
	if n <= 0 {
		s.Index = 0
		return
	}
	if s.Index >= n {
		s.Index = s.Index % n
	}
	if s.Index < 0 {
		s.Index = 0
	}
}
