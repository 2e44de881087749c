package peer

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/filefabric/ctp/server"
)

func newTestServer(t *testing.T, clusterID string) *server.Server {
	t.Helper()
	s, err := server.New(id32('S'), t.TempDir())
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	s.AddCluster(clusterID)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { s.End() })
	if err := s.Listen(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("server.Listen failed: %v", err)
	}
	return s
}

func newWorkflowPeer(t *testing.T, clusterID, peerID string, serverAddr *net.UDPAddr) *Peer {
	t.Helper()
	p, err := New("127.0.0.1:0", clusterID, peerID, t.TempDir(), serverAddr)
	if err != nil {
		t.Fatalf("peer.New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { p.End() })
	if err := p.Listen(ctx); err != nil {
		t.Fatalf("peer.Listen failed: %v", err)
	}
	return p
}

// TestWorkflowShareThenDownload runs the full cycle: one peer shares a
// file, a second peer joins, syncs the manifest, fetches the descriptor,
// and downloads the file's blocks from the first peer.
func TestWorkflowShareThenDownload(t *testing.T) {
	clusterID := id32('c')
	srv := newTestServer(t, clusterID)
	srvAddr := srv.ListenerAddr()

	seeder := newWorkflowPeer(t, clusterID, id32('1'), srvAddr)
	if err := seeder.Join(); err != nil {
		t.Fatalf("seeder Join failed: %v", err)
	}

	content := bytes.Repeat([]byte("A"), 5000)
	if _, err := seeder.content.AddFile("movie.bin", content); err != nil {
		t.Fatalf("seed file failed: %v", err)
	}
	if err := seeder.Share(); err != nil {
		t.Fatalf("Share failed: %v", err)
	}

	leecher := newWorkflowPeer(t, clusterID, id32('2'), srvAddr)
	if err := leecher.Join(); err != nil {
		t.Fatalf("leecher Join failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	var names []string
	var err error
	for time.Now().Before(deadline) {
		names, err = leecher.SyncManifest()
		if err == nil && len(names) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("SyncManifest failed: %v", err)
	}
	if len(names) != 1 || names[0] != "movie.bin" {
		t.Fatalf("unexpected manifest contents: %+v", names)
	}

	if err := leecher.FetchMissingDescriptors(names); err != nil {
		t.Fatalf("FetchMissingDescriptors failed: %v", err)
	}
	if _, ok := leecher.content.Get("movie.bin"); !ok {
		t.Fatal("expected a placeholder descriptor for movie.bin")
	}

	if err := leecher.SyncFiles(); err != nil {
		t.Fatalf("SyncFiles failed: %v", err)
	}

	f, ok := leecher.content.Get("movie.bin")
	if !ok || !f.Downloaded() {
		t.Fatal("expected movie.bin to be fully downloaded")
	}
	got, err := f.Content()
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded content does not match the seeded content")
	}
}

func TestJoinPopulatesPeerMap(t *testing.T) {
	clusterID := id32('c')
	srv := newTestServer(t, clusterID)
	srvAddr := srv.ListenerAddr()

	p1 := newWorkflowPeer(t, clusterID, id32('1'), srvAddr)
	if err := p1.Join(); err != nil {
		t.Fatalf("p1 Join failed: %v", err)
	}

	p2 := newWorkflowPeer(t, clusterID, id32('2'), srvAddr)
	if err := p2.Join(); err != nil {
		t.Fatalf("p2 Join failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p1.peers.Len() == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if p1.peers.Len() != 1 {
		t.Fatalf("expected p1 to learn about p2 via PEERLIST_PUSH, peers.Len() = %d", p1.peers.Len())
	}
}
