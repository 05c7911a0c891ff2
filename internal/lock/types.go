package lock

import "time"

// Record represents the persisted state of the serialization lock.
type Record struct {
	Key     string    `json:"key"`
	Holder  string    `json:"holder"`
	SinceTS time.Time `json:"since_ts"`
	TTL     int       `json:"ttl_seconds"`
}

// isExpired reports whether the record's TTL deadman's switch has elapsed.
func (r *Record) isExpired(now time.Time) bool {
	return now.Sub(r.SinceTS) > time.Duration(r.TTL)*time.Second
}
