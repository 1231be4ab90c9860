package service

// Compare returns the current compare state.
func (s *MapState) Compare() CompareState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compare
}

// EnableCompare turns compare mode on. Slots are kept.
func (s *MapState) EnableCompare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compare.Enabled = true
}

// DisableCompare turns compare mode off and clears both slots.
func (s *MapState) DisableCompare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disableCompareLocked()
}

func (s *MapState) disableCompareLocked() {
	s.compare.Enabled = false
	s.compare.LeftLayerID = ""
	s.compare.RightLayerID = ""
}

// SetLeft assigns the left slot.
func (s *MapState) SetLeft(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compare.LeftLayerID = id
}

// SetRight assigns the right slot.
func (s *MapState) SetRight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compare.RightLayerID = id
}

// ClearSide empties the "left" or "right" slot. Other values are ignored.
func (s *MapState) ClearSide(side string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch side {
	case "left":
		s.compare.LeftLayerID = ""
	case "right":
		s.compare.RightLayerID = ""
	}
}

// SetSliderPosition moves the divider, clamped to [0,100].
func (s *MapState) SetSliderPosition(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compare.SliderPosition = clampPercent(p)
}

// ToggleCompareLayer assigns id to a compare slot the way the legend's
// compare button does:
//
//   - compare off: turn it on with id on the left
//   - id already on a side: clear that side
//   - left empty: id goes left
//   - right empty: id goes right
//   - both taken: id replaces the right side
//
// Whenever both slots end up filled the pair is moved to the top of the
// active set.
func (s *MapState) ToggleCompareLayer(id string) CompareState {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &s.compare
	switch {
	case !c.Enabled:
		c.Enabled = true
		c.LeftLayerID = id
		c.RightLayerID = ""
	case c.LeftLayerID == id:
		c.LeftLayerID = ""
	case c.RightLayerID == id:
		c.RightLayerID = ""
	case c.LeftLayerID == "":
		c.LeftLayerID = id
	default:
		c.RightLayerID = id
	}
	if c.LeftLayerID != "" && c.RightLayerID != "" {
		s.moveCompareLayersToTopLocked(c.LeftLayerID, c.RightLayerID)
	}
	return *c
}

func clampPercent(p float64) float64 {
	return max(0, min(100, p))
}
