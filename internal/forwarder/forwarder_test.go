package forwarder

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/dnsrelay/dnsrelayd/internal/assoc"
	"github.com/dnsrelay/dnsrelayd/internal/blocklist"
	"github.com/dnsrelay/dnsrelayd/internal/cache"
	"github.com/dnsrelay/dnsrelayd/internal/fingerprint"
	"github.com/dnsrelay/dnsrelayd/internal/wire"
)

// writeName mirrors internal/wire's own test helper of the same name —
// it has no exported equivalent, since the name writer internal/wire
// uses for BuildQuery (writeQuestionName) is unexported.
func writeName(buf []byte, name string) int {
	off := 0
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			buf[off] = byte(len(label))
			off++
			off += copy(buf[off:], label)
			start = i + 1
		}
	}
	buf[off] = 0
	off++
	return off
}

func buildQuery(id uint16, name string, qtype wire.RecordType) []byte {
	buf := make([]byte, wire.PacketSize)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], 1<<8) // RD
	binary.BigEndian.PutUint16(buf[4:6], 1)    // QDCount

	off := 12
	off += writeName(buf[off:], name)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(qtype))
	binary.BigEndian.PutUint16(buf[off+2:off+4], 1)
	return buf
}

// buildAReply builds a NOERROR reply carrying id and one A answer. id
// is supplied by the caller so tests can echo back whatever id a fake
// upstream actually received.
func buildAReply(id uint16, name string, ttl uint32, ip [4]byte) []byte {
	buf := make([]byte, wire.PacketSize)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], 1<<15|1<<8|1<<7) // QR|RD|RA
	binary.BigEndian.PutUint16(buf[4:6], 1)                // QDCount
	binary.BigEndian.PutUint16(buf[6:8], 1)                // ANCount

	off := 12
	off += writeName(buf[off:], name)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(wire.TypeA))
	binary.BigEndian.PutUint16(buf[off+2:off+4], 1)
	off += 4

	off += writeName(buf[off:], name)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(wire.TypeA))
	binary.BigEndian.PutUint16(buf[off+2:off+4], 1)
	off += 4
	binary.BigEndian.PutUint32(buf[off:off+4], ttl)
	off += 4
	binary.BigEndian.PutUint16(buf[off:off+2], 4)
	off += 2
	copy(buf[off:off+4], ip[:])

	return buf
}

// fakeUpstream is a minimal UDP server that echoes an A reply back to
// whatever id and question it was sent, simulating a real resolver well
// enough to exercise the forwarder's round trip.
type fakeUpstream struct {
	conn *net.UDPConn
	ip   [4]byte
	ttl  uint32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	u := &fakeUpstream{conn: conn, ip: [4]byte{93, 184, 216, 34}, ttl: 300}
	go u.serve()
	return u
}

func (u *fakeUpstream) serve() {
	buf := make([]byte, wire.PacketSize)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := wire.Parse(buf[:n])
		if err != nil {
			continue
		}
		reply := buildAReply(msg.Header.RequestID, msg.Question.Name, u.ttl, u.ip)
		u.conn.WriteToUDP(reply, addr)
	}
}

func (u *fakeUpstream) addr() string {
	return u.conn.LocalAddr().String()
}

func (u *fakeUpstream) close() {
	u.conn.Close()
}

// newTestForwarder wires the dependencies a test needs and leaves the
// rest nil, relying on handleQuery's documented nil-disables-that-stage
// contract.
func newTestForwarder(t *testing.T, cfg Config, upstream string, blocked *blocklist.Set, c *cache.Cache) *Forwarder {
	t.Helper()
	fwd, err := New(cfg, "127.0.0.1:0", upstream, assoc.New(), c, blocked, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fwd
}

func recvReply(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, wire.PacketSize)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	return buf[:n]
}

func dialClient(t *testing.T, to *net.UDPAddr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, to)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// TestForwarderRoundTripPreservesClientID checks that the query
// forwarded upstream, and the reply sent back to the client, both
// carry the client's own request id unmodified (spec.md §4.5 step 6).
func TestForwarderRoundTripPreservesClientID(t *testing.T) {
	upstream := newFakeUpstream(t)
	defer upstream.close()

	fwd := newTestForwarder(t, Config{Workers: 1, Quiet: true}, upstream.addr(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	client := dialClient(t, fwd.Addr())
	defer client.Close()

	query := buildQuery(0x4242, "www.example.com", wire.TypeA)
	if _, err := client.Write(query); err != nil {
		t.Fatalf("client write: %v", err)
	}

	reply := recvReply(t, client)
	msg, err := wire.Parse(reply)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if msg.Header.RequestID != 0x4242 {
		t.Errorf("RequestID = %x, want 0x4242 (client's original id)", msg.Header.RequestID)
	}
	if len(msg.Answers) != 1 {
		t.Fatalf("len(Answers) = %d, want 1", len(msg.Answers))
	}
}

func TestForwarderBenchmarkModeBypassesUpstream(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.close() // closed: benchmark mode must never touch it

	fwd := newTestForwarder(t, Config{
		Workers:         1,
		Quiet:           true,
		Benchmark:       true,
		ResolutionDelay: 10 * time.Millisecond,
	}, upstream.addr(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	client := dialClient(t, fwd.Addr())
	defer client.Close()

	query := buildQuery(0x1111, "bench.example.com", wire.TypeA)
	if _, err := client.Write(query); err != nil {
		t.Fatalf("client write: %v", err)
	}

	reply := recvReply(t, client)
	msg, err := wire.Parse(reply)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if msg.Header.RequestID != 0x1111 {
		t.Errorf("RequestID = %x, want 0x1111", msg.Header.RequestID)
	}
	if !msg.Header.QR || msg.Header.Rcode != wire.RcodeNoError {
		t.Errorf("reply = %+v, want QR set and NOERROR", msg.Header)
	}
}

func TestForwarderBlocklistShortCircuits(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.close() // closed: a blocked name must never reach it

	blocked := blocklist.New([]string{"ads.example.com"})
	fwd := newTestForwarder(t, Config{Workers: 1, Quiet: true}, upstream.addr(), blocked, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	client := dialClient(t, fwd.Addr())
	defer client.Close()

	query := buildQuery(0x2222, "ads.example.com", wire.TypeA)
	if _, err := client.Write(query); err != nil {
		t.Fatalf("client write: %v", err)
	}

	reply := recvReply(t, client)
	msg, err := wire.Parse(reply)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if msg.Header.Rcode != wire.RcodeNXDomain {
		t.Errorf("Rcode = %v, want NXDOMAIN", msg.Header.Rcode)
	}
}

func TestForwarderCacheHitSkipsSecondUpstreamRoundTrip(t *testing.T) {
	upstream := newFakeUpstream(t)
	defer upstream.close()

	c := cache.New(cache.Config{}, fingerprint.New())
	fwd := newTestForwarder(t, Config{Workers: 1, Quiet: true, CachingEnabled: true}, upstream.addr(), nil, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	client := dialClient(t, fwd.Addr())
	defer client.Close()

	query1 := buildQuery(0x3333, "cached.example.com", wire.TypeA)
	if _, err := client.Write(query1); err != nil {
		t.Fatalf("client write 1: %v", err)
	}
	reply1 := recvReply(t, client)
	if _, err := wire.Parse(reply1); err != nil {
		t.Fatalf("parse reply 1: %v", err)
	}

	// The cache is populated asynchronously by awaitUpstreamReply after
	// the client's own answer was already sent; give it a moment.
	time.Sleep(50 * time.Millisecond)

	upstream.close() // the second query must be served from cache alone

	query2 := buildQuery(0x4444, "cached.example.com", wire.TypeA)
	if _, err := client.Write(query2); err != nil {
		t.Fatalf("client write 2: %v", err)
	}
	reply2 := recvReply(t, client)
	msg2, err := wire.Parse(reply2)
	if err != nil {
		t.Fatalf("parse reply 2: %v", err)
	}
	if msg2.Header.RequestID != 0x4444 {
		t.Errorf("RequestID = %x, want 0x4444", msg2.Header.RequestID)
	}
	if len(msg2.Answers) != 1 {
		t.Fatalf("len(Answers) = %d, want 1", len(msg2.Answers))
	}
}
