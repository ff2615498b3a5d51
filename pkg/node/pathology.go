package node

// stallTracker detects three byte-identical assistant responses in a row
// (spec.md §4.4 pathology detection).
type stallTracker struct {
	history [2]string
	count   int
}

// observe records text and reports whether it is the third identical
// response in a row. Empty text (a turn with only tool calls) does not
// count toward a stall.
func (s *stallTracker) observe(text string) bool {
	if text == "" {
		s.history = [2]string{}
		return false
	}
	if s.history[0] == text && s.history[1] == text {
		return true
	}
	s.history[0] = s.history[1]
	s.history[1] = text
	return false
}

// doomLoopTracker detects the same tool called with argument-equal inputs
// across consecutive iterations (spec.md §4.4 pathology detection).
type doomLoopTracker struct {
	lastKey string
	streak  int
	warned  bool
}

// observe records one tool call and reports (repeated, shouldFail).
// repeated becomes true on the 3rd consecutive identical call (emit a
// warning); shouldFail becomes true if it recurs once more after the
// warning was already issued.
func (d *doomLoopTracker) observe(name, args string) (repeated, shouldFail bool) {
	key := name + "\x00" + args
	if key == d.lastKey {
		d.streak++
	} else {
		d.lastKey = key
		d.streak = 1
		d.warned = false
	}

	if d.streak >= 4 && d.warned {
		return true, true
	}
	if d.streak >= 3 {
		d.warned = true
		return true, false
	}
	return false, false
}
