package peer

import (
	"sort"
	"strings"
	"sync"

	"github.com/filefabric/ctp/cluster"
)

// PeerMap is a peer's local view of cluster membership: the round-robin
// selection used by sync-files, updated wholesale by PEERLIST_PUSH.
type PeerMap struct {
	mu      sync.Mutex
	peers   []cluster.PeerInfo
	counter uint64
}

// Replace overwrites the local peer map with peers, excluding selfID, and
// sorts by peer_id so iteration order is deterministic.
func (m *PeerMap) Replace(peers []cluster.PeerInfo, selfID string) {
	filtered := make([]cluster.PeerInfo, 0, len(peers))
	for _, p := range peers {
		if p.PeerID != selfID {
			filtered = append(filtered, p)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].PeerID < filtered[j].PeerID })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = filtered
}

// Len returns the number of known peers.
func (m *PeerMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Next returns the next peer in round-robin order, advancing the internal
// counter. ok is false if the map is empty.
func (m *PeerMap) Next() (cluster.PeerInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.peers) == 0 {
		return cluster.PeerInfo{}, false
	}
	idx := int(m.counter % uint64(len(m.peers)))
	m.counter++
	return m.peers[idx], true
}

// Evict removes peerID from the map.
func (m *PeerMap) Evict(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.peers[:0]
	for _, p := range m.peers {
		if p.PeerID != peerID {
			out = append(out, p)
		}
	}
	m.peers = out
}

// All returns a snapshot of the current peer list.
func (m *PeerMap) All() []cluster.PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cluster.PeerInfo(nil), m.peers...)
}

func formatPeerList(peers []cluster.PeerInfo) string {
	var b strings.Builder
	for i, p := range peers {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.PeerID)
		b.WriteByte('@')
		b.WriteString(p.Addr.String())
	}
	return b.String()
}
