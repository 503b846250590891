package sessions

// Bucket accumulates the per-minute, per-key counters that cannot be rebuilt
// from deltas alone: peak concurrency and distinct viewers. Once Rotate hands
// a bucket to the aggregator it is never written again.
type Bucket struct {
	Peaks [NumDimensions]map[string]int
	Users [NumDimensions]map[string]*UserSet
}

func newBucket() *Bucket {
	b := &Bucket{}
	for d := range b.Peaks {
		b.Peaks[d] = make(map[string]int)
		b.Users[d] = make(map[string]*UserSet)
	}
	return b
}

// newBucketSeeded pre-loads peaks with the live counts at rotation time, so
// keys that see no events during the minute still report their standing
// concurrency.
func newBucketSeeded(counts [NumDimensions]map[string]int) *Bucket {
	b := newBucket()
	for d := range counts {
		for k, n := range counts[d] {
			b.Peaks[d][k] = n
		}
	}
	return b
}

// observe raises a key's peak if the new live count exceeds it.
func (b *Bucket) observe(d Dimension, key string, liveCount int) {
	if liveCount > b.Peaks[d][key] {
		b.Peaks[d][key] = liveCount
	}
}

// addUser records a distinct viewer for a key.
func (b *Bucket) addUser(d Dimension, key, userID string) {
	set, ok := b.Users[d][key]
	if !ok {
		set = NewUserSet()
		b.Users[d][key] = set
	}
	set.Add(userID)
}
