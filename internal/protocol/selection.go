package protocol

// Selection is the set of object ids chosen for a protocol. Ids keep the order
// in which they were selected.
type Selection struct {
	ids         []string
	initialized bool
}

// NewSelection returns an empty, uninitialised selection.
func NewSelection(ids ...string) *Selection {
	s := &Selection{}
	for _, id := range ids {
		s.Toggle(id, true)
	}
	return s
}

// Reinitialize aligns the selection with a new candidate list. The first call
// keeps any prior selection that is still a candidate, or selects every
// candidate when nothing survives. Later calls only drop ids that are no
// longer candidates. An empty candidate list clears the selection and resets
// initialisation. It reports whether the selection shrank.
func (s *Selection) Reinitialize(candidates []string) bool {
	available := make(map[string]struct{}, len(candidates))
	var ordered []string
	for _, id := range candidates {
		if id == "" {
			continue
		}
		if _, dup := available[id]; dup {
			continue
		}
		available[id] = struct{}{}
		ordered = append(ordered, id)
	}
	prior := len(s.ids)
	if len(ordered) == 0 {
		s.ids = nil
		s.initialized = false
		return prior > 0
	}
	kept := make([]string, 0, len(s.ids))
	for _, id := range s.ids {
		if _, ok := available[id]; ok {
			kept = append(kept, id)
		}
	}
	if !s.initialized {
		s.initialized = true
		if len(kept) == 0 {
			s.ids = ordered
			return false
		}
		s.ids = kept
		return len(kept) != prior
	}
	if len(kept) != prior {
		s.ids = kept
		return true
	}
	return false
}

// Toggle adds or removes id. Repeating the same toggle has no further effect.
func (s *Selection) Toggle(id string, included bool) {
	if id == "" {
		return
	}
	idx := s.indexOf(id)
	switch {
	case included && idx < 0:
		s.ids = append(s.ids, id)
	case !included && idx >= 0:
		s.ids = append(s.ids[:idx], s.ids[idx+1:]...)
	}
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id string) bool {
	return id != "" && s.indexOf(id) >= 0
}

// HasSelection reports whether at least one object is selected.
func (s *Selection) HasSelection() bool {
	return s != nil && len(s.ids) > 0
}

func (s *Selection) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns a copy of the selected ids.
func (s *Selection) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Clear empties the selection and forgets initialisation.
func (s *Selection) Clear() {
	s.ids = nil
	s.initialized = false
}

func (s *Selection) indexOf(id string) int {
	for i, v := range s.ids {
		if v == id {
			return i
		}
	}
	return -1
}
