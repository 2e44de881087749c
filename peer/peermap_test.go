package peer

import (
	"net"
	"testing"

	"github.com/filefabric/ctp/cluster"
)

func peerInfo(id string, port int) cluster.PeerInfo {
	return cluster.PeerInfo{PeerID: id, Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}}
}

func TestPeerMapRoundRobin(t *testing.T) {
	var m PeerMap
	m.Replace([]cluster.PeerInfo{peerInfo("a", 1), peerInfo("b", 2), peerInfo("c", 3)}, "self")

	var order []string
	for i := 0; i < 6; i++ {
		p, ok := m.Next()
		if !ok {
			t.Fatal("expected Next to succeed")
		}
		order = append(order, p.PeerID)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestPeerMapReplaceExcludesSelf(t *testing.T) {
	var m PeerMap
	m.Replace([]cluster.PeerInfo{peerInfo("self", 1), peerInfo("b", 2)}, "self")
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	p, _ := m.Next()
	if p.PeerID != "b" {
		t.Errorf("expected only peer b to remain, got %s", p.PeerID)
	}
}

func TestPeerMapNextEmpty(t *testing.T) {
	var m PeerMap
	if _, ok := m.Next(); ok {
		t.Fatal("expected Next to fail on an empty map")
	}
}

func TestPeerMapEvict(t *testing.T) {
	var m PeerMap
	m.Replace([]cluster.PeerInfo{peerInfo("a", 1), peerInfo("b", 2)}, "self")
	m.Evict("a")
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
	p, _ := m.Next()
	if p.PeerID != "b" {
		t.Errorf("expected b to remain, got %s", p.PeerID)
	}
}
