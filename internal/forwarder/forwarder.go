// Package forwarder implements the UDP forwarding engine: the accept
// loop, per-datagram dispatch, upstream I/O, and reply routing that
// ties the codec, blocklist, cache and association map together.
//
// Grounded on the teacher's internal/transport/fast_udp.go (worker
// loop shape, per-packet dispatch) and internal/server/server.go
// (lifecycle: New/Start/Stop/Stats), adapted from a *dns.Msg-object
// pipeline to the raw-byte-forwarding pipeline spec.md §4.5 requires.
package forwarder

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/dnsrelay/dnsrelayd/internal/assoc"
	"github.com/dnsrelay/dnsrelayd/internal/blocklist"
	"github.com/dnsrelay/dnsrelayd/internal/cache"
	"github.com/dnsrelay/dnsrelayd/internal/metrics"
	"github.com/dnsrelay/dnsrelayd/internal/pool"
	"github.com/dnsrelay/dnsrelayd/internal/ratelimit"
	"github.com/dnsrelay/dnsrelayd/internal/recorder"
	"github.com/dnsrelay/dnsrelayd/internal/wire"
)

// Config configures a Forwarder.
type Config struct {
	// Workers is the number of acceptor goroutines sharing the
	// receiving socket. spec.md §4.5 default: max(1, cores/2).
	Workers int

	// Benchmark enables stub mode (spec.md §4.6): bypass upstream,
	// sleep ResolutionDelay, return a synthesized NOERROR reply.
	Benchmark       bool
	ResolutionDelay time.Duration

	CachingEnabled bool
	Quiet          bool
}

// Forwarder owns both UDP sockets and the shared association map. The
// cache, blocklist, rate limiter, recorder and metrics are all
// optional (nil disables that stage).
type Forwarder struct {
	cfg Config

	recvConn     *net.UDPConn
	upstreamConn *net.UDPConn
	upstreamAddr *net.UDPAddr

	assocMap *assoc.Map
	cache    *cache.Cache
	blocked  *blocklist.Set
	limiter  *ratelimit.Limiter
	rec      *recorder.Recorder
	metrics  *metrics.Metrics

	bufPool *pool.BufferPool

	wg   sync.WaitGroup
	quit chan struct{}

	stats Stats
	mu    sync.Mutex
}

// Stats holds process-lifetime counters, mirroring what cmd/dnsscienced's
// printStats reports from server.Stats.
type Stats struct {
	Queries  uint64
	Answers  uint64
	Blocked  uint64
	Errors   uint64
	Orphaned uint64
}

// New binds both sockets and constructs a Forwarder. It does not start
// accepting until Start is called.
func New(cfg Config, bindAddr string, upstream string, assocMap *assoc.Map, c *cache.Cache, blocked *blocklist.Set, limiter *ratelimit.Limiter, rec *recorder.Recorder, m *metrics.Metrics) (*Forwarder, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	recvUDPAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("forwarder: resolve bind address %s: %w", bindAddr, err)
	}
	recvConn, err := net.ListenUDP("udp", recvUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("forwarder: listen %s: %w", bindAddr, err)
	}

	upstreamUDPAddr, err := net.ResolveUDPAddr("udp", upstream)
	if err != nil {
		recvConn.Close()
		return nil, fmt.Errorf("forwarder: resolve upstream %s: %w", upstream, err)
	}
	// The upstream socket binds to an ephemeral local port and is
	// shared by every worker goroutine; it is never the socket clients
	// talk to.
	upstreamConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		recvConn.Close()
		return nil, fmt.Errorf("forwarder: bind upstream socket: %w", err)
	}

	f := &Forwarder{
		cfg:          cfg,
		recvConn:     recvConn,
		upstreamConn: upstreamConn,
		upstreamAddr: upstreamUDPAddr,
		assocMap:     assocMap,
		cache:        c,
		blocked:      blocked,
		limiter:      limiter,
		rec:          rec,
		metrics:      m,
		quit:         make(chan struct{}),
		bufPool:      pool.NewBufferPool(),
	}
	return f, nil
}

// Start launches cfg.Workers acceptor goroutines sharing the receiving
// socket. Each accepted datagram is dispatched into its own goroutine
// immediately — accept loops never do per-query work themselves, so a
// slow upstream never blocks further accepts.
func (f *Forwarder) Start(ctx context.Context) {
	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go f.acceptLoop(ctx)
	}
}

// Stop closes both sockets, which unblocks any goroutine parked in a
// Read call, and waits for in-flight work to observe the closed
// sockets and return.
func (f *Forwarder) Stop() error {
	close(f.quit)
	f.recvConn.Close()
	f.upstreamConn.Close()
	f.wg.Wait()
	return nil
}

func (f *Forwarder) acceptLoop(ctx context.Context) {
	defer f.wg.Done()
	for {
		buf := f.bufPool.Get()
		_, clientAddr, err := f.recvConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-f.quit:
				return
			default:
			}
			if !f.cfg.Quiet {
				log.Printf("forwarder: accept error: %v", err)
			}
			f.bufPool.Put(buf)
			continue
		}

		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.handleQuery(buf, clientAddr)
			f.bufPool.Put(buf)
		}()
	}
}

// handleQuery runs the full per-datagram pipeline described in
// spec.md §4.5.
func (f *Forwarder) handleQuery(buf []byte, clientAddr *net.UDPAddr) {
	if f.rec != nil {
		if err := f.rec.Record(buf); err != nil && !f.cfg.Quiet {
			log.Printf("forwarder: recording query: %v", err)
		}
	}

	msg, err := wire.Parse(buf)
	if err != nil {
		if f.metrics != nil {
			f.metrics.MalformedTotal.Inc()
		}
		if !f.cfg.Quiet {
			log.Printf("forwarder: dropping malformed datagram from %s: %v", clientAddr, err)
		}
		return
	}

	f.incr(&f.stats.Queries)
	if f.metrics != nil {
		f.metrics.QueriesTotal.Inc()
	}

	if f.limiter != nil && !f.limiter.Allow(clientAddr.IP) {
		return
	}

	if f.cfg.Benchmark {
		time.Sleep(f.cfg.ResolutionDelay)
		reply := wire.BuildMinimalReply(msg.Header.RequestID, wire.RcodeNoError)
		f.sendToClient(reply, clientAddr)
		return
	}

	if f.blocked != nil && f.blocked.Contains(msg.Question.Name) {
		f.incr(&f.stats.Blocked)
		if f.metrics != nil {
			f.metrics.BlockedTotal.Inc()
		}
		reply := wire.BuildMinimalReply(msg.Header.RequestID, wire.RcodeNXDomain)
		f.sendToClient(reply, clientAddr)
		return
	}

	key := wire.RRKey{Type: msg.Question.Type, Name: msg.Question.Name}

	if f.cfg.CachingEnabled && f.cache != nil {
		if out, ok := f.cache.Get(key, msg.Header.RequestID); ok {
			if f.metrics != nil {
				f.metrics.CacheHitsTotal.Inc()
			}
			f.sendToClient(out, clientAddr)
			return
		}
		if f.metrics != nil {
			f.metrics.CacheMissesTotal.Inc()
		}
	}

	// spec.md §4.5 step 6 sends the client's original raw buffer to the
	// upstream resolver unmodified — the association map is keyed on the
	// client's own id rather than a substitute, the way
	// original_source/crates/dns-block-tokio/src/resolution.rs's
	// RequestKey::from_packet reads the id straight off the wire.
	assocKey := assoc.Key{RequestID: msg.Header.RequestID, Type: msg.Question.Type, Name: msg.Question.Name}
	// Insert before the upstream send so a very fast reply can never
	// arrive before the entry exists (spec.md §5).
	f.assocMap.Insert(assocKey, assoc.Entry{
		ClientAddr:  clientAddr,
		ArrivalTime: time.Now(),
		CacheKey:    key,
	})

	if _, err := f.upstreamConn.WriteToUDP(buf, f.upstreamAddr); err != nil {
		f.incr(&f.stats.Errors)
		if f.metrics != nil {
			f.metrics.ForwardErrors.Inc()
		}
		if !f.cfg.Quiet {
			log.Printf("forwarder: upstream send failed: %v", err)
		}
		return
	}

	f.awaitUpstreamReply()
}

// awaitUpstreamReply blocks on the shared upstream socket for one
// datagram. Because the socket is shared by every in-flight query,
// the reply this call receives need not be the one this goroutine's
// own query solicited — the association map, not the call stack,
// decides who it belongs to. This mirrors spec.md §4.5's "same task
// awaits on the upstream socket" while staying correct under
// concurrent interleaving (scenario 4, §8).
func (f *Forwarder) awaitUpstreamReply() {
	buf := f.bufPool.Get()
	defer f.bufPool.Put(buf)

	f.upstreamConn.SetReadDeadline(time.Time{})
	_, _, err := f.upstreamConn.ReadFromUDP(buf)
	if err != nil {
		f.incr(&f.stats.Errors)
		if f.metrics != nil {
			f.metrics.ForwardErrors.Inc()
		}
		return
	}

	replyMsg, err := wire.Parse(buf)
	if err != nil {
		if f.metrics != nil {
			f.metrics.MalformedTotal.Inc()
		}
		if !f.cfg.Quiet {
			log.Printf("forwarder: dropping malformed upstream reply: %v", err)
		}
		return
	}

	replyKey := assoc.Key{RequestID: replyMsg.Header.RequestID, Type: replyMsg.Question.Type, Name: replyMsg.Question.Name}
	entry, ok := f.assocMap.LookupAndRemove(replyKey)
	if !ok {
		f.incr(&f.stats.Orphaned)
		if f.metrics != nil {
			f.metrics.OrphanedReplies.Inc()
		}
		if !f.cfg.Quiet {
			log.Printf("forwarder: no pending query for reply %s", replyKey)
		}
		return
	}

	f.sendToClient(buf, entry.ClientAddr)

	if f.cfg.CachingEnabled && f.cache != nil {
		if err := f.cache.Set(entry.CacheKey, buf); err != nil && !f.cfg.Quiet {
			log.Printf("forwarder: cache insert failed: %v", err)
		}
	}
}

// sendToClient replies via the receiving socket — mandatory, because a
// client validates reply origin by (address, port) and would reject
// anything arriving from a different local port (spec.md §4.5).
func (f *Forwarder) sendToClient(buf []byte, addr *net.UDPAddr) {
	if _, err := f.recvConn.WriteToUDP(buf, addr); err != nil {
		f.incr(&f.stats.Errors)
		if !f.cfg.Quiet {
			log.Printf("forwarder: client send failed: %v", err)
		}
		return
	}
	f.incr(&f.stats.Answers)
}

func (f *Forwarder) incr(counter *uint64) {
	f.mu.Lock()
	*counter++
	f.mu.Unlock()
}

// GetStats returns a snapshot of process-lifetime counters.
func (f *Forwarder) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Addr returns the receiving socket's bound local address, useful when
// constructing a Forwarder with an ephemeral port (":0") in tests.
func (f *Forwarder) Addr() *net.UDPAddr {
	return f.recvConn.LocalAddr().(*net.UDPAddr)
}
