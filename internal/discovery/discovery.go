// Package discovery advertises game servers on the local network over UDP
// broadcast and collects those advertisements for the client's browser.
package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the UDP port used for server discovery.
	DefaultPort = 9998
	// BroadcastInterval is how often servers advertise themselves.
	BroadcastInterval = 1 * time.Second
	// ServerExpiry is how long a server stays visible after its last broadcast.
	ServerExpiry = 4 * time.Second
)

// ServerInfo describes a game server on the network.
type ServerInfo struct {
	Name    string `json:"name"`
	Addr    string `json:"addr"` // websocket base URL, e.g. ws://192.168.1.5:8080
	Forming int    `json:"forming"`
	Active  int    `json:"active"`
}

// StatsFunc reports live lobby counts.
type StatsFunc func() (forming, active int)

// --- Broadcaster ---

// Broadcaster periodically sends UDP broadcast packets with server info.
type Broadcaster struct {
	info  ServerInfo
	port  int
	stats StatsFunc
	log   *logrus.Entry
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewBroadcaster creates a broadcaster for info on port. stats, if not nil,
// refreshes the lobby counts before each packet.
func NewBroadcaster(info ServerInfo, port int, stats StatsFunc, log *logrus.Entry) *Broadcaster {
	return &Broadcaster{
		info:  info,
		port:  port,
		stats: stats,
		log:   log.WithField("component", "discovery"),
		done:  make(chan struct{}),
	}
}

// Start opens the socket and begins broadcasting.
func (b *Broadcaster) Start() error {
	// Use ListenPacket (not DialUDP) so broadcast works on Linux.
	// DialUDP to 255.255.255.255 silently fails without SO_BROADCAST.
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("open broadcast socket: %w", err)
	}

	b.wg.Add(1)
	go b.broadcastLoop(conn)
	b.log.Infof("Advertising %s on UDP port %d", b.info.Addr, b.port)
	return nil
}

// Stop stops the broadcaster and waits for its loop to exit.
func (b *Broadcaster) Stop() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.wg.Wait()
}

func (b *Broadcaster) broadcastLoop(conn net.PacketConn) {
	defer b.wg.Done()
	defer conn.Close()

	ticker := time.NewTicker(BroadcastInterval)
	defer ticker.Stop()

	// Send immediately on start, then on tick
	b.sendBroadcast(conn)

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.sendBroadcast(conn)
		}
	}
}

// packet returns the current advertisement.
func (b *Broadcaster) packet() ([]byte, error) {
	info := b.info
	if b.stats != nil {
		info.Forming, info.Active = b.stats()
	}
	return json.Marshal(info)
}

func (b *Broadcaster) sendBroadcast(conn net.PacketConn) {
	data, err := b.packet()
	if err != nil {
		b.log.WithError(err).Error("Failed to encode advertisement")
		return
	}

	// 1. Always send to loopback for same-machine discovery
	//    (255.255.255.255 broadcast is often dropped by Linux firewall)
	loopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.port}
	if _, err := conn.WriteTo(data, loopback); err != nil {
		b.log.WithError(err).Debug("Loopback advertisement failed")
	}

	// 2. Try global broadcast
	_, _ = conn.WriteTo(data, &net.UDPAddr{IP: net.IPv4bcast, Port: b.port})

	// 3. Also broadcast on each interface's specific broadcast address
	for _, ip := range interfaceBroadcasts() {
		_, _ = conn.WriteTo(data, &net.UDPAddr{IP: ip, Port: b.port})
	}
}

// interfaceBroadcasts lists the broadcast address of every IPv4 interface
// that is up.
func interfaceBroadcasts() []net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var out []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			out = append(out, broadcastAddr(ipnet))
		}
	}
	return out
}

// broadcastAddr computes IP | ~Mask.
func broadcastAddr(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, 4)
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}

// LocalAddrs returns the websocket base URLs under which this host is
// reachable on port, loopback first.
func LocalAddrs(port int) []string {
	out := []string{fmt.Sprintf("ws://127.0.0.1:%d", port)}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			out = append(out, fmt.Sprintf("ws://%s:%d", ipnet.IP, port))
		}
	}
	return out
}

// --- Listener ---

// seenServer holds a server and when it was last heard from.
type seenServer struct {
	info     ServerInfo
	lastSeen time.Time
}

// Listener collects server advertisements.
type Listener struct {
	port   int
	expiry time.Duration

	mu      sync.RWMutex
	servers map[string]*seenServer // keyed by Addr
	conn    *net.UDPConn
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewListener creates a listener for port. Port 0 picks a free port; see Port.
func NewListener(port int) *Listener {
	return &Listener{
		port:    port,
		expiry:  ServerExpiry,
		servers: make(map[string]*seenServer),
		done:    make(chan struct{}),
	}
}

// Start begins listening for advertisements.
func (l *Listener) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: l.port})
	if err != nil {
		return fmt.Errorf("listen UDP on port %d: %w (is another instance browsing?)", l.port, err)
	}
	l.conn = conn
	l.port = conn.LocalAddr().(*net.UDPAddr).Port

	l.wg.Add(2)
	go l.listenLoop()
	go l.cleanupLoop()
	return nil
}

// Port reports the bound port once started.
func (l *Listener) Port() int { return l.port }

// Stop stops the listener.
func (l *Listener) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	if l.conn != nil {
		l.conn.Close()
	}
	l.wg.Wait()
}

// Servers returns the currently visible servers ordered by name.
func (l *Listener) Servers() []ServerInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ServerInfo, 0, len(l.servers))
	for _, s := range l.servers {
		out = append(out, s.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

func (l *Listener) listenLoop() {
	defer l.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				continue
			}
		}
		l.observe(buf[:n], time.Now())
	}
}

func (l *Listener) observe(data []byte, now time.Time) {
	var info ServerInfo
	if err := json.Unmarshal(data, &info); err != nil || info.Addr == "" {
		return
	}
	l.mu.Lock()
	l.servers[info.Addr] = &seenServer{info: info, lastSeen: now}
	l.mu.Unlock()
}

func (l *Listener) cleanupLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.expire(now)
		}
	}
}

func (l *Listener) expire(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for addr, s := range l.servers {
		if now.Sub(s.lastSeen) > l.expiry {
			delete(l.servers, addr)
		}
	}
}
