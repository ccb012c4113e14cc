// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState tracks the last coordinate a provider emitted, so that providers only
// emit when the position actually moved.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether c differs significantly from the last stored coordinate. An empty
// state always reports a change.
func (s *GeolocationState) HasChanged(c Coordinate) bool {
	if !s.haveLast {
		return true
	}
	return c.DistanceTo(s.last) > DistanceThreshold
}

// Update stores c as the last emitted coordinate.
func (s *GeolocationState) Update(c Coordinate) {
	s.last = c
	s.haveLast = true
}
