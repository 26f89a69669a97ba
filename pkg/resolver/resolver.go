// Package resolver implements the Recursive Resolver: an independent UDP
// listener with its own LRU cache and round-robin upstream forwarding over
// plain UDP or DNS-over-TLS.
package resolver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ionmandns/pkg/cache"
	"ionmandns/pkg/logging"
	"ionmandns/pkg/querylog"
	"ionmandns/pkg/storage"

	"github.com/miekg/dns"
)

const maxDatagramSize = 4096

var errNoUpstreams = errors.New("resolver: no upstream servers configured")

// Upstream describes one candidate resolver.
type Upstream struct {
	Host       string
	Port       int
	Transport  string // "udp" or "tls"
	ServerName string // SNI/verification name for TLS; defaults to Host
}

func (u Upstream) addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// Resolver is the Recursive Resolver.
type Resolver struct {
	ListenAddress  string
	Upstreams      []Upstream
	AttemptTimeout time.Duration
	MinTTL         time.Duration
	MaxTTL         time.Duration

	cache  *cache.Cache
	logger *logging.Logger
	rlog   *querylog.ResolverLogger

	index atomic.Uint32
	conn  *net.UDPConn

	startedAt time.Time

	mu        sync.Mutex
	total     uint64
	cachedN   uint64
	forwarded uint64
	errorsN   uint64
	nxdomainN uint64
	latencies []int64 // ring buffer, at most 1000 entries
}

// New creates a Recursive Resolver. rlog may be nil to disable resolver
// event persistence entirely.
func New(listenAddress string, upstreams []Upstream, attemptTimeout time.Duration, cacheMax int, minTTL, maxTTL time.Duration, logger *logging.Logger, rlog *querylog.ResolverLogger) *Resolver {
	if attemptTimeout <= 0 {
		attemptTimeout = 3 * time.Second
	}
	if minTTL <= 0 {
		minTTL = 60 * time.Second
	}
	if maxTTL <= 0 {
		maxTTL = 86400 * time.Second
	}
	return &Resolver{
		ListenAddress:  listenAddress,
		Upstreams:      upstreams,
		AttemptTimeout: attemptTimeout,
		MinTTL:         minTTL,
		MaxTTL:         maxTTL,
		cache:          cache.New(cacheMax),
		logger:         logger,
		rlog:           rlog,
	}
}

// Run binds the UDP socket and serves until ctx is canceled.
func (r *Resolver) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", r.ListenAddress)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	r.conn = conn
	r.startedAt = time.Now()

	r.logger.Info("recursive resolver listening", "address", r.ListenAddress, "upstreams", len(r.Upstreams))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			r.logger.Warn("resolver read error", "error", err)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		go r.handle(ctx, packet, clientAddr)
	}
}

func (r *Resolver) handle(ctx context.Context, packet []byte, clientAddr *net.UDPAddr) {
	req := new(dns.Msg)
	if err := req.Unpack(packet); err != nil || len(req.Question) == 0 {
		return
	}
	q := req.Question[0]
	key := cache.Key(q.Name, q.Qtype)
	clientIP := clientAddr.IP.String()
	qtypeLabel := dns.TypeToString[q.Qtype]

	r.mu.Lock()
	r.total++
	r.mu.Unlock()

	if entry, ok := r.cache.Get(key); ok {
		reply := new(dns.Msg)
		reply.SetReply(req)
		reply.RecursionAvailable = true
		reply.Authoritative = false
		reply.Answer = entry.Answer
		r.send(clientAddr, reply)
		r.mu.Lock()
		r.cachedN++
		r.mu.Unlock()
		r.logEvent(clientIP, q.Name, qtypeLabel, "cached", "", 0)
		return
	}

	start := time.Now()
	resp, upstream, err := r.forward(ctx, req)
	elapsed := time.Since(start)
	r.recordLatency(elapsed)

	if err != nil {
		reply := new(dns.Msg)
		reply.SetReply(req)
		reply.Rcode = dns.RcodeServerFailure
		r.send(clientAddr, reply)
		r.mu.Lock()
		r.errorsN++
		r.mu.Unlock()
		r.logEvent(clientIP, q.Name, qtypeLabel, "error", upstream, elapsed.Milliseconds())
		return
	}

	r.send(clientAddr, resp)

	if resp.Rcode == dns.RcodeNameError {
		r.mu.Lock()
		r.nxdomainN++
		r.mu.Unlock()
		r.logEvent(clientIP, q.Name, qtypeLabel, "nxdomain", upstream, elapsed.Milliseconds())
		return
	}

	r.mu.Lock()
	r.forwarded++
	r.mu.Unlock()
	r.logEvent(clientIP, q.Name, qtypeLabel, "answered", upstream, elapsed.Milliseconds())

	if len(resp.Answer) > 0 {
		ttl := minAnswerTTL(resp.Answer)
		r.cache.Put(key, cache.Entry{
			Answer:    resp.Answer,
			ExpiresAt: time.Now().Add(cache.ClampTTL(ttl, r.MinTTL, r.MaxTTL)),
		})
	}
}

// forward tries each upstream in round-robin order, first success wins. The
// upstream address attempted last (the one that answered, or - on total
// failure - the one whose error is being reported) is returned for the
// resolver log.
func (r *Resolver) forward(ctx context.Context, req *dns.Msg) (*dns.Msg, string, error) {
	n := len(r.Upstreams)
	if n == 0 {
		return nil, "", errNoUpstreams
	}

	start := int(r.index.Add(1))
	var lastErr error
	var lastAddr string
	for i := 0; i < n; i++ {
		u := r.Upstreams[(start+i)%n]
		lastAddr = u.addr()

		attemptCtx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
		resp, _, err := r.exchange(attemptCtx, u, req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		return resp, lastAddr, nil
	}
	return nil, lastAddr, lastErr
}

// logEvent persists one Recursive Resolver decision. A nil rlog (resolver
// event persistence disabled) makes this a no-op, mirroring the Front
// Proxy's nil-qlog handling.
func (r *Resolver) logEvent(clientIP, domain, qtype, result, upstream string, durationMs int64) {
	if r.rlog == nil {
		return
	}
	r.rlog.Log(storage.ResolverEvent{
		Timestamp:  time.Now(),
		ClientIP:   clientIP,
		Domain:     domain,
		QType:      qtype,
		Result:     result,
		Upstream:   upstream,
		DurationMs: durationMs,
	})
}

// exchange dials one upstream. TLS transport is handled by miekg/dns's
// "tcp-tls" network, which applies the 2-byte length prefix and the
// supplied tls.Config (system trust store, SNI set to the descriptor's
// host) per connection.
func (r *Resolver) exchange(ctx context.Context, u Upstream, req *dns.Msg) (*dns.Msg, time.Duration, error) {
	client := &dns.Client{Timeout: r.AttemptTimeout}
	if u.Transport == "tls" {
		sni := u.ServerName
		if sni == "" {
			sni = u.Host
		}
		client.Net = "tcp-tls"
		client.TLSConfig = &tls.Config{ServerName: sni, MinVersion: tls.VersionTLS12}
	} else {
		client.Net = "udp"
	}
	return client.ExchangeContext(ctx, req, u.addr())
}

func (r *Resolver) send(clientAddr *net.UDPAddr, msg *dns.Msg) {
	packed, err := msg.Pack()
	if err != nil {
		return
	}
	if _, err := r.conn.WriteToUDP(packed, clientAddr); err != nil {
		r.logger.Warn("resolver write to client failed", "error", err)
	}
}

func (r *Resolver) recordLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies = append(r.latencies, d.Milliseconds())
	if len(r.latencies) > 1000 {
		r.latencies = r.latencies[len(r.latencies)-1000:]
	}
}

func minAnswerTTL(rrs []dns.RR) time.Duration {
	var lowest uint32
	for i, rr := range rrs {
		ttl := rr.Header().Ttl
		if i == 0 || ttl < lowest {
			lowest = ttl
		}
	}
	return time.Duration(lowest) * time.Second
}

// avgLatencyMs returns the mean of the recorded latency ring buffer.
func (r *Resolver) avgLatencyMs() float64 {
	if len(r.latencies) == 0 {
		return 0
	}
	var sum int64
	for _, v := range r.latencies {
		sum += v
	}
	return float64(sum) / float64(len(r.latencies))
}

// Close releases the listening socket.
func (r *Resolver) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
