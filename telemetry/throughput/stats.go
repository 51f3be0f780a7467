package throughput

type Digest struct {
	Inbound  Snapshot `json:"inbound"`
	Outbound Snapshot `json:"outbound"`
}

// Stats pairs the inbound and outbound counters of one connection
type Stats struct {
	inbound  *Throughput
	outbound *Throughput
}

func NewStats(unit string, done <-chan struct{}) *Stats {
	return &Stats{
		inbound:  New(unit, done),
		outbound: New(unit, done),
	}
}

func (s *Stats) CountInbound(n int) {
	s.inbound.Observe(n)
}

func (s *Stats) CountOutbound(n int) {
	s.outbound.Observe(n)
}

func (s *Stats) Digest() Digest {
	return Digest{
		Inbound:  s.inbound.Snapshot(),
		Outbound: s.outbound.Snapshot(),
	}
}
