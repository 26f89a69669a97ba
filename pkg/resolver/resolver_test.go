package resolver

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestMinAnswerTTLPicksLowest(t *testing.T) {
	rrs := []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Ttl: 300}},
		&dns.A{Hdr: dns.RR_Header{Ttl: 60}},
		&dns.A{Hdr: dns.RR_Header{Ttl: 120}},
	}
	require.Equal(t, 60*time.Second, minAnswerTTL(rrs))
}

func TestUpstreamAddrJoinsHostPort(t *testing.T) {
	u := Upstream{Host: "1.1.1.1", Port: 53}
	require.Equal(t, "1.1.1.1:53", u.addr())
}

func TestForwardWithNoUpstreamsErrors(t *testing.T) {
	r := New("127.0.0.1:0", nil, 0, 10, 0, 0, nil, nil)
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	_, _, err := r.forward(t.Context(), req)
	require.ErrorIs(t, err, errNoUpstreams)
}

func TestAvgLatencyMsEmptyIsZero(t *testing.T) {
	r := New("127.0.0.1:0", nil, 0, 10, 0, 0, nil, nil)
	require.Equal(t, 0.0, r.avgLatencyMs())
}

func TestRecordLatencyBoundsRingBufferAt1000(t *testing.T) {
	r := New("127.0.0.1:0", nil, 0, 10, 0, 0, nil, nil)
	for i := 0; i < 1500; i++ {
		r.recordLatency(time.Millisecond)
	}
	require.Len(t, r.latencies, 1000)
}
