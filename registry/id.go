package registry

import "sync/atomic"

// idSource hands out monotonically increasing session ids. The first id is
// start+1; ids are never reused while the process runs.
type idSource struct {
	id atomic.Uint32
}

func newIDSource(start uint32) *idSource {
	s := &idSource{}
	s.id.Store(start)
	return s
}

// next returns the next id.
func (s *idSource) next() uint32 {
	return s.id.Add(1)
}

