// Package proxy implements the Front Proxy: a UDP listener that classifies
// every query against the Rule Engine and either synthesizes a block reply
// or forwards the request verbatim to a single configured upstream.
package proxy

import (
	"context"
	"net"
	"time"

	"ionmandns/pkg/logging"
	"ionmandns/pkg/querylog"
	"ionmandns/pkg/rules"
	"ionmandns/pkg/storage"

	"github.com/miekg/dns"
)

const (
	defaultBlockTTL       = 300 * time.Second
	defaultUpstreamWait   = 5 * time.Second
	maxDatagramSize       = 4096
)

// Proxy is the Front Proxy.
type Proxy struct {
	ListenAddress string
	Upstream      string
	BlockTTL      time.Duration
	UpstreamWait  time.Duration

	engine *rules.Engine
	logger *logging.Logger
	qlog   *querylog.Logger

	conn *net.UDPConn
}

// New creates a Front Proxy bound to listenAddress, forwarding unblocked
// queries to upstream.
func New(listenAddress, upstream string, engine *rules.Engine, qlog *querylog.Logger, logger *logging.Logger) *Proxy {
	return &Proxy{
		ListenAddress: listenAddress,
		Upstream:      upstream,
		BlockTTL:      defaultBlockTTL,
		UpstreamWait:  defaultUpstreamWait,
		engine:        engine,
		qlog:          qlog,
		logger:        logger,
	}
}

// Run binds the UDP socket and serves until ctx is canceled. Each datagram
// is handled in its own goroutine; the listener never blocks on upstream
// I/O.
func (p *Proxy) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", p.ListenAddress)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	p.conn = conn

	p.logger.Info("front proxy listening", "address", p.ListenAddress, "upstream", p.Upstream)

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
			p.logger.Warn("front proxy read error", "error", err)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		go p.handle(ctx, packet, clientAddr)
	}
}

func (p *Proxy) handle(ctx context.Context, packet []byte, clientAddr *net.UDPAddr) {
	req := new(dns.Msg)
	if err := req.Unpack(packet); err != nil || len(req.Question) == 0 {
		// Malformed inbound packet: drop silently, no reply, no log.
		return
	}

	q := req.Question[0]
	qname := q.Name
	qtypeLabel := dns.TypeToString[q.Qtype]
	clientIP := clientAddr.IP.String()

	blocked, category := p.engine.Classify(clientIP, qname)

	if blocked {
		reply := blockReply(req, q, p.BlockTTL)
		p.reply(clientAddr, reply)
		p.log(clientIP, qname, qtypeLabel, category, true)
		return
	}

	p.forward(ctx, packet, req, q, clientAddr, clientIP, qtypeLabel)
}

// blockReply synthesizes a block response per spec.md 4.3: TTL 300 default,
// A -> 0.0.0.0, AAAA -> ::, HTTPS (65) -> NXDOMAIN with no answer, anything
// else -> a single A record of 0.0.0.0.
func blockReply(req *dns.Msg, q dns.Question, ttl time.Duration) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Response = true

	ttlSecs := uint32(ttl / time.Second)

	switch q.Qtype {
	case dns.TypeAAAA:
		reply.Answer = append(reply.Answer, &dns.AAAA{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttlSecs},
			AAAA: net.IPv6zero,
		})
	case dns.TypeHTTPS:
		reply.Rcode = dns.RcodeNameError
	default:
		reply.Answer = append(reply.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttlSecs},
			A:   net.IPv4zero,
		})
	}

	return reply
}

func (p *Proxy) forward(ctx context.Context, packet []byte, req *dns.Msg, q dns.Question, clientAddr *net.UDPAddr, clientIP, qtypeLabel string) {
	upAddr, err := net.ResolveUDPAddr("udp", p.Upstream)
	if err != nil {
		p.servfail(req, clientAddr, clientIP, q.Name, qtypeLabel)
		return
	}

	upConn, err := net.DialUDP("udp", nil, upAddr)
	if err != nil {
		p.servfail(req, clientAddr, clientIP, q.Name, qtypeLabel)
		return
	}
	defer upConn.Close()

	_ = upConn.SetDeadline(time.Now().Add(p.UpstreamWait))

	if _, err := upConn.Write(packet); err != nil {
		p.servfail(req, clientAddr, clientIP, q.Name, qtypeLabel)
		return
	}

	respBuf := make([]byte, maxDatagramSize)
	n, err := upConn.Read(respBuf)
	if err != nil {
		// Upstream timeout/failure: SERVFAIL, logged as allowed - the
		// query was served, just not answered successfully.
		p.servfail(req, clientAddr, clientIP, q.Name, qtypeLabel)
		return
	}

	raw := respBuf[:n]
	if _, err := p.conn.WriteToUDP(raw, clientAddr); err != nil {
		p.logger.Warn("front proxy write to client failed", "error", err)
	}

	resp := new(dns.Msg)
	action := "allowed"
	if err := resp.Unpack(raw); err == nil && answerLooksBlocked(resp) {
		action = "blocked"
	}
	p.log(clientIP, q.Name, qtypeLabel, "", action == "blocked")
}

func (p *Proxy) servfail(req *dns.Msg, clientAddr *net.UDPAddr, clientIP, qname, qtypeLabel string) {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Rcode = dns.RcodeServerFailure
	p.reply(clientAddr, reply)
	p.log(clientIP, qname, qtypeLabel, "", false)
}

func (p *Proxy) reply(clientAddr *net.UDPAddr, msg *dns.Msg) {
	packed, err := msg.Pack()
	if err != nil {
		return
	}
	if _, err := p.conn.WriteToUDP(packed, clientAddr); err != nil {
		p.logger.Warn("front proxy write to client failed", "error", err)
	}
}

// answerLooksBlocked flags a forwarded answer as upstream-blocked when any
// RDATA is 0.0.0.0, ::, or 127.0.0.1. Imprecise by construction - some
// legitimate records resolve to 127.0.0.1 - but preserved as specified.
func answerLooksBlocked(msg *dns.Msg) bool {
	for _, rr := range msg.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if v.A.Equal(net.IPv4zero) || v.A.Equal(net.IPv4(127, 0, 0, 1)) {
				return true
			}
		case *dns.AAAA:
			if v.AAAA.Equal(net.IPv6zero) {
				return true
			}
		}
	}
	return false
}

func (p *Proxy) log(clientIP, qname, qtype, category string, blocked bool) {
	if p.qlog == nil {
		return
	}
	p.qlog.Log(storage.QueryEvent{
		Timestamp: time.Now(),
		ClientIP:  clientIP,
		Domain:    qname,
		QType:     qtype,
		Category:  category,
		Blocked:   blocked,
	})
}

// Close releases the listening socket.
func (p *Proxy) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
