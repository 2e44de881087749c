// Package cluster tracks server-side peer membership and liveness: the
// peermap, per-peer expiration timers, and the peer_left signal that
// drives PEERLIST_PUSH publication.
package cluster

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/filefabric/ctp/internal/metrics"
)

// LivenessTTL is how long a peer may go without sending any message before
// it is evicted.
const LivenessTTL = 30 * time.Second

// PeerInfo identifies a single cluster member.
type PeerInfo struct {
	PeerID string
	Addr   *net.UDPAddr
}

// Cluster holds one cluster's peermap and liveness timers, and notifies a
// watcher whenever a peer is removed so it can republish the peer list.
// Joins do not signal the watcher.
type Cluster struct {
	mu       sync.RWMutex
	peers    map[string]PeerInfo
	timers   map[string]*time.Timer
	left     chan struct{}
	newTimer func(d time.Duration, f func()) *time.Timer
	metrics  *metrics.Registry
}

// New returns an empty Cluster.
func New() *Cluster {
	return &Cluster{
		peers:  make(map[string]PeerInfo),
		timers: make(map[string]*time.Timer),
		left:   make(chan struct{}, 1),
		newTimer: func(d time.Duration, f func()) *time.Timer {
			return time.AfterFunc(d, f)
		},
	}
}

// SetMetrics registers m so joins, removals, and evictions update its
// gauges and counters. Safe to call any time; nil disables metrics.
func (c *Cluster) SetMetrics(m *metrics.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Join inserts or overwrites peerID's entry and (re)starts its liveness
// timer. A re-join of a known peer_id overwrites the
// prior address.
func (c *Cluster) Join(peerID string, addr *net.UDPAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.peers[peerID]
	c.peers[peerID] = PeerInfo{PeerID: peerID, Addr: addr}
	c.resetTimerLocked(peerID)
	if !existed && c.metrics != nil {
		c.metrics.ActivePeers.Inc()
	}
}

// Touch resets peerID's liveness timer if it is a known member. It is a
// no-op for unknown peers.
func (c *Cluster) Touch(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[peerID]; !ok {
		return
	}
	c.resetTimerLocked(peerID)
}

func (c *Cluster) resetTimerLocked(peerID string) {
	if t, ok := c.timers[peerID]; ok {
		t.Stop()
	}
	m := c.metrics
	c.timers[peerID] = c.newTimer(LivenessTTL, func() {
		log.Infof("cluster: evicting peer %s after %s of silence", peerID, LivenessTTL)
		if m != nil {
			m.LivenessEvictions.Inc()
		}
		c.Remove(peerID)
	})
}

// Remove evicts peerID, stopping its timer and signalling peer_left.
func (c *Cluster) Remove(peerID string) {
	c.mu.Lock()
	_, existed := c.peers[peerID]
	delete(c.peers, peerID)
	if t, ok := c.timers[peerID]; ok {
		t.Stop()
		delete(c.timers, peerID)
	}
	if existed && c.metrics != nil {
		c.metrics.ActivePeers.Dec()
	}
	c.mu.Unlock()

	if existed {
		c.signalLeft()
	}
}

func (c *Cluster) signalLeft() {
	select {
	case c.left <- struct{}{}:
	default:
	}
}

// Peers returns the current membership, sorted by peer_id.
func (c *Cluster) Peers() []PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerInfo, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// PeersExcept returns the current membership sorted by peer_id, omitting
// excludeID.
func (c *Cluster) PeersExcept(excludeID string) []PeerInfo {
	all := c.Peers()
	out := make([]PeerInfo, 0, len(all))
	for _, p := range all {
		if p.PeerID != excludeID {
			out = append(out, p)
		}
	}
	return out
}

// EncodePeerList serializes peers as lines of "<peer_id> <ip> <port>",
// sorted by peer_id.
func EncodePeerList(peers []PeerInfo) []byte {
	sorted := append([]PeerInfo(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PeerID < sorted[j].PeerID })

	var b strings.Builder
	for _, p := range sorted {
		b.WriteString(p.PeerID)
		b.WriteByte(' ')
		b.WriteString(p.Addr.IP.String())
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(p.Addr.Port))
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// DecodePeerList parses the format produced by EncodePeerList.
func DecodePeerList(data []byte) ([]PeerInfo, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\r\n"), "\r\n")
	var out []PeerInfo
	for _, line := range lines {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		ip := net.ParseIP(fields[1])
		if ip == nil {
			continue
		}
		out = append(out, PeerInfo{
			PeerID: fields[0],
			Addr:   &net.UDPAddr{IP: ip, Port: port},
		})
	}
	return out, nil
}

// Watch runs a background task that publishes the current peer list via
// publish whenever a peer leaves, until ctx is cancelled.
func (c *Cluster) Watch(ctx context.Context, publish func(peers []PeerInfo)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.left:
			publish(c.Peers())
		}
	}
}
