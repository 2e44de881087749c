// Package peer implements the peer side of CTP: joining a cluster,
// serving blocks to other peers, and running the sync workflow that pulls
// the manifest, missing descriptors, and missing blocks.
package peer

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/filefabric/ctp/cluster"
	"github.com/filefabric/ctp/internal/metrics"
	"github.com/filefabric/ctp/shareddir"
	"github.com/filefabric/ctp/transport"
	"github.com/filefabric/ctp/wire"
)

// Protocol-default timeouts and retry counts. A Peer starts with these;
// callers may override the corresponding fields before use.
const (
	DefaultTimeout              = time.Second
	DefaultJoinRetries          = 2
	DefaultPeerRequestRetries   = 1
	DefaultManifestFetchRetries = 3
)

// Peer is one cluster member: it owns a SharedDirectory for content, a
// SharedDirectory for manifest state, and a PeerMap describing the rest of
// the cluster.
type Peer struct {
	LocalAddr  string
	ClusterID  string
	ID         string
	ServerAddr *net.UDPAddr

	// Per-request knobs, filled with the protocol defaults by New.
	Timeout              time.Duration
	JoinRetries          int
	PeerRequestRetries   int
	ManifestFetchRetries int

	content  *shareddir.SharedDirectory
	manifest *shareddir.SharedDirectory
	peers    PeerMap

	listener *transport.Listener
	Metrics  *metrics.Registry
}

// New constructs a Peer rooted at sharedDirPath. cluster_id and peer_id
// must be exactly 32 ASCII bytes (wire.IDSize); construction fails
// otherwise.
func New(localAddr, clusterID, peerID, sharedDirPath string, serverAddr *net.UDPAddr) (*Peer, error) {
	if len(clusterID) != wire.IDSize || len(peerID) != wire.IDSize {
		return nil, fmt.Errorf("%w: cluster_id and peer_id must be exactly %d bytes", ErrInvalidArgument, wire.IDSize)
	}
	for _, id := range []string{clusterID, peerID} {
		for i := 0; i < len(id); i++ {
			if id[i] > 0x7F {
				return nil, fmt.Errorf("%w: cluster_id and peer_id must be ASCII", ErrInvalidArgument)
			}
		}
	}

	content, err := shareddir.New(sharedDirPath)
	if err != nil {
		return nil, fmt.Errorf("peer: content dir: %w", err)
	}
	manifestDir, err := shareddir.New(filepath.Join(sharedDirPath, "manifest"))
	if err != nil {
		return nil, fmt.Errorf("peer: manifest dir: %w", err)
	}
	if err := content.Refresh(); err != nil {
		return nil, fmt.Errorf("peer: refresh content dir: %w", err)
	}
	if err := manifestDir.Refresh(); err != nil {
		return nil, fmt.Errorf("peer: refresh manifest dir: %w", err)
	}

	return &Peer{
		LocalAddr:            localAddr,
		ClusterID:            clusterID,
		ID:                   peerID,
		ServerAddr:           serverAddr,
		Timeout:              DefaultTimeout,
		JoinRetries:          DefaultJoinRetries,
		PeerRequestRetries:   DefaultPeerRequestRetries,
		ManifestFetchRetries: DefaultManifestFetchRetries,
		content:              content,
		manifest:             manifestDir,
		Metrics:              metrics.New("peer"),
	}, nil
}

// Listen starts the peer's UDP listener and request handler under ctx.
func (p *Peer) Listen(ctx context.Context) error {
	l, err := transport.Listen(ctx, p.LocalAddr, p.handle, transport.WithMetrics(p.Metrics))
	if err != nil {
		return fmt.Errorf("peer: listen: %w", err)
	}
	p.listener = l
	return nil
}

// Scan rescans the shared directory, picking up files added or removed
// behind the peer's back.
func (p *Peer) Scan() error {
	if err := p.content.Refresh(); err != nil {
		return fmt.Errorf("peer: scan: %w", err)
	}
	return nil
}

// End stops the listener.
func (p *Peer) End() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Stop()
}

// SendRequest generates a random seqnum, sends t/body to dest, and retries
// up to `retries` additional times awaiting the matching response
// (seqnum+1 from dest). For NO_OP and PEERLIST_PUSH (no response expected)
// it sends once and returns with respOK=false immediately.
func (p *Peer) SendRequest(t wire.Type, body []byte, dest *net.UDPAddr, timeout time.Duration, retries int) (resp wire.Message, respOK bool, err error) {
	if !t.IsRequest() {
		return wire.Message{}, false, fmt.Errorf("%w: %s is not a request type", ErrInvalidArgument, t)
	}
	if dest == nil {
		return wire.Message{}, false, fmt.Errorf("%w: destination address is required", ErrInvalidArgument)
	}
	if len(body) > wire.MaxBody {
		return wire.Message{}, false, fmt.Errorf("%w: body of %d bytes exceeds MAX_BODY", ErrInvalidArgument, len(body))
	}

	seqnum := rand.Uint32()
	msg := wire.Message{Type: t, Seqnum: seqnum, ClusterID: p.ClusterID, SenderID: p.ID, Body: body}
	packed, err := msg.Pack()
	if err != nil {
		return wire.Message{}, false, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if t == wire.NoOp || t == wire.PeerlistPush {
		if err := p.listener.Send(packed, dest); err != nil {
			return wire.Message{}, false, fmt.Errorf("%w: %v", ErrConnectionError, err)
		}
		return wire.Message{}, false, nil
	}

	// One correlation id per SendRequest call so the log lines of all its
	// attempts can be tied together.
	reqID := uuid.New().String()[:8]
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		resp, err := p.listener.WaitResponse(packed, dest, seqnum+1, timeout)
		if err == nil {
			return resp, true, nil
		}
		lastErr = err
		log.Debugf("peer: req=%s attempt %d/%d of %s to %s failed: %v", reqID, attempt+1, retries+1, t, dest, err)
	}
	return wire.Message{}, false, fmt.Errorf("%w: %v", ErrConnectionError, lastErr)
}

func (p *Peer) handle(msg wire.Message, addr *net.UDPAddr) (wire.Message, bool) {
	switch msg.Type {
	case wire.StatusRequest:
		return p.reply(msg, wire.StatusResponse, []byte("status: 1")), true
	case wire.BlockRequest:
		return p.handleBlockRequest(msg)
	case wire.PeerlistPush:
		p.handlePeerlistPush(msg)
		return wire.Message{}, false
	case wire.NoOp:
		return wire.Message{}, false
	default:
		log.Debugf("peer: unexpected request type %s from %s", msg.Type, addr)
		return p.reply(msg, wire.UnexpectedReq, nil), true
	}
}

func (p *Peer) reply(req wire.Message, t wire.Type, body []byte) wire.Message {
	return wire.Message{
		Type:      t,
		Seqnum:    req.Seqnum + 1,
		ClusterID: req.ClusterID,
		SenderID:  p.ID,
		Body:      body,
	}
}

func (p *Peer) handleBlockRequest(msg wire.Message) (wire.Message, bool) {
	reqBlock, ok := wire.UnpackBlock(msg.Body)
	if !ok {
		log.Errorf("peer: malformed block request body from sender %s", msg.SenderID)
		return p.reply(msg, wire.ServerError, nil), true
	}

	f, ok := p.content.FindByHash(reqBlock.FileHash)
	if !ok || int(reqBlock.BlockID) >= len(f.Blocks) || !f.Blocks[reqBlock.BlockID].Downloaded() {
		return p.reply(msg, wire.BlockResponse, nil), true
	}
	return p.reply(msg, wire.BlockResponse, f.Blocks[reqBlock.BlockID].Pack()), true
}

func (p *Peer) handlePeerlistPush(msg wire.Message) {
	peers, err := cluster.DecodePeerList(msg.Body)
	if err != nil {
		log.Warnf("peer: malformed peerlist push: %v", err)
		return
	}
	p.peers.Replace(peers, p.ID)
	log.Debugf("peer: updated peer map: %s", formatPeerList(p.peers.All()))
}
