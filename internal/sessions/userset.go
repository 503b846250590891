package sessions

import "github.com/axiomhq/hyperloglog"

// exactUserLimit is the set size at which a key's user set switches from
// exact membership to a HyperLogLog estimate (standard error ~0.8%).
const exactUserLimit = 10000

// UserSet counts distinct user ids for one bucket key. Small sets are exact;
// past exactUserLimit the set degrades to a probabilistic sketch.
type UserSet struct {
	exact  map[string]struct{}
	sketch *hyperloglog.Sketch
}

func NewUserSet() *UserSet {
	return &UserSet{exact: make(map[string]struct{})}
}

// Add records one user id.
func (s *UserSet) Add(id string) {
	if s.sketch != nil {
		s.sketch.Insert([]byte(id))
		return
	}
	s.exact[id] = struct{}{}
	if len(s.exact) <= exactUserLimit {
		return
	}
	sketch := hyperloglog.New14()
	for u := range s.exact {
		sketch.Insert([]byte(u))
	}
	s.sketch = sketch
	s.exact = nil
}

// Estimate returns the distinct count. Exact below the sketch threshold;
// a nil set counts zero.
func (s *UserSet) Estimate() int64 {
	if s == nil {
		return 0
	}
	if s.sketch != nil {
		return int64(s.sketch.Estimate())
	}
	return int64(len(s.exact))
}
