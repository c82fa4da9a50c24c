package stats

import (
	"sync/atomic"
	"time"
)

// MatchEvent is a local lifecycle event.
type MatchEvent string

const (
	Matched   MatchEvent = "matched"
	Started   MatchEvent = "started"
	Ended     MatchEvent = "ended"
	Disbanded MatchEvent = "disbanded"
	Exited    MatchEvent = "exited"
)

// Stats counts lifecycle and bus traffic since process start.
type Stats struct {
	matched   atomic.Int64
	started   atomic.Int64
	ended     atomic.Int64
	disbanded atomic.Int64
	exited    atomic.Int64

	busIn  atomic.Int64
	busOut atomic.Int64
}

func New() *Stats {
	return &Stats{}
}

func (s *Stats) Record(evt MatchEvent) {
	switch evt {
	case Matched:
		s.matched.Add(1)
	case Started:
		s.started.Add(1)
	case Ended:
		s.ended.Add(1)
	case Disbanded:
		s.disbanded.Add(1)
	case Exited:
		s.exited.Add(1)
	}
}

func (s *Stats) BusIn()  { s.busIn.Add(1) }
func (s *Stats) BusOut() { s.busOut.Add(1) }

type MatchCounters struct {
	Matched   int64 `json:"matched"`
	Started   int64 `json:"started"`
	Ended     int64 `json:"ended"`
	Disbanded int64 `json:"disbanded"`
	Exited    int64 `json:"exited"`
}

type BusCounters struct {
	In  int64 `json:"inc"`
	Out int64 `json:"out"`
}

type Snapshot struct {
	Match MatchCounters `json:"match"`
	Bus   BusCounters   `json:"mk"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Match: MatchCounters{
			Matched:   s.matched.Load(),
			Started:   s.started.Load(),
			Ended:     s.ended.Load(),
			Disbanded: s.disbanded.Load(),
			Exited:    s.exited.Load(),
		},
		Bus: BusCounters{In: s.busIn.Load(), Out: s.busOut.Load()},
	}
}

// ServerInfo is the composite read served by /info.
type ServerInfo struct {
	Snapshot
	Now    time.Time `json:"now"`
	Logics int       `json:"logics"`
	TCP    any       `json:"tcp"`
	UDP    any       `json:"udp"`
}
