// Package server implements the control-server side of CTP: cluster
// membership, manifest authority, and descriptor/block serving for the
// manifest file.
package server

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/filefabric/ctp/cluster"
	"github.com/filefabric/ctp/fileinfo"
	"github.com/filefabric/ctp/internal/metrics"
	"github.com/filefabric/ctp/shareddir"
	"github.com/filefabric/ctp/transport"
	"github.com/filefabric/ctp/wire"
)

const manifestFilename = ".crmanifest"

// Server is the control plane for one or more clusters sharing a listen
// address. Construction takes a server id and a shared-directory path;
// the listen address is given to Listen, and clusters are added with
// AddCluster.
type Server struct {
	ID         string
	ListenAddr string

	descriptors *shareddir.SharedDirectory
	manifestDir *shareddir.SharedDirectory

	mu          sync.RWMutex
	fileinfoMap map[string]fileinfo.FileInfo
	clusters    map[string]*cluster.Cluster

	listener *transport.Listener
	Metrics  *metrics.Registry
}

// New constructs a Server rooted at sharedDirPath. id is the server's
// sender identifier and must be exactly 32 ASCII bytes, like any peer id.
// New does not start listening; call Listen.
func New(id, sharedDirPath string) (*Server, error) {
	if len(id) != wire.IDSize {
		return nil, fmt.Errorf("server: id must be exactly %d bytes, got %d", wire.IDSize, len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 0x7F {
			return nil, fmt.Errorf("server: id must be ASCII")
		}
	}
	descriptors, err := shareddir.New(sharedDirPath)
	if err != nil {
		return nil, fmt.Errorf("server: descriptors dir: %w", err)
	}
	manifestDir, err := shareddir.New(filepath.Join(sharedDirPath, "manifest"))
	if err != nil {
		return nil, fmt.Errorf("server: manifest dir: %w", err)
	}

	if err := descriptors.Refresh(); err != nil {
		return nil, fmt.Errorf("server: refresh descriptors dir: %w", err)
	}

	s := &Server{
		ID:          id,
		descriptors: descriptors,
		manifestDir: manifestDir,
		fileinfoMap: make(map[string]fileinfo.FileInfo),
		clusters:    make(map[string]*cluster.Cluster),
		Metrics:     metrics.New("server"),
	}
	// Descriptors announced before a restart come back from disk.
	for _, name := range descriptors.Filenames() {
		if f, ok := descriptors.Get(name); ok {
			s.fileinfoMap[name] = f.Info
		}
	}
	if _, err := s.manifestDir.AddFile(manifestFilename, fileinfo.EncodeManifest(nil)); err != nil {
		return nil, fmt.Errorf("server: init manifest: %w", err)
	}
	return s, nil
}

// AddCluster registers clusterID as one this server accepts joins for.
func (s *Server) AddCluster(clusterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clusters[clusterID]; !ok {
		c := cluster.New()
		c.SetMetrics(s.Metrics)
		s.clusters[clusterID] = c
	}
}

func (s *Server) clusterFor(id string) (*cluster.Cluster, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[id]
	return c, ok
}

// Listen binds ListenAddr and starts serving requests, and starts one
// membership watcher per registered cluster.
func (s *Server) Listen(ctx context.Context, addr string) error {
	s.ListenAddr = addr
	l, err := transport.Listen(ctx, addr, s.handle, transport.WithMetrics(s.Metrics))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = l

	s.mu.RLock()
	clusters := make(map[string]*cluster.Cluster, len(s.clusters))
	for id, c := range s.clusters {
		clusters[id] = c
	}
	s.mu.RUnlock()

	for id, c := range clusters {
		go s.watchCluster(ctx, id, c)
	}
	return nil
}

func (s *Server) watchCluster(ctx context.Context, clusterID string, c *cluster.Cluster) {
	c.Watch(ctx, func(peers []cluster.PeerInfo) {
		s.pushPeerListTo(clusterID, peers, peers)
	})
}

// pushPeerListTo sends a PEERLIST_PUSH carrying body (the full membership)
// to each address in recipients.
func (s *Server) pushPeerListTo(clusterID string, recipients, body []cluster.PeerInfo) {
	encoded := cluster.EncodePeerList(body)
	for _, p := range recipients {
		msg := wire.Message{
			Type:      wire.PeerlistPush,
			Seqnum:    rand.Uint32(),
			ClusterID: clusterID,
			SenderID:  s.ID,
			Body:      encoded,
		}
		packed, err := msg.Pack()
		if err != nil {
			log.Errorf("server: failed to pack peerlist push: %v", err)
			continue
		}
		if err := s.listener.Send(packed, p.Addr); err != nil {
			log.Debugf("server: failed to push peer list to %s: %v", p.PeerID, err)
		}
	}
}

// ListenerAddr returns the bound UDP address. It must only be called after
// Listen has succeeded.
func (s *Server) ListenerAddr() *net.UDPAddr {
	return s.listener.LocalAddr()
}

// End stops the listener. Cluster watchers keep running until the context
// passed to Listen is cancelled, and End does not stop liveness timers.
func (s *Server) End() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Stop()
}

func (s *Server) handle(msg wire.Message, addr *net.UDPAddr) (wire.Message, bool) {
	if c, ok := s.clusterFor(msg.ClusterID); ok {
		c.Touch(msg.SenderID)
	}

	switch msg.Type {
	case wire.StatusRequest:
		return s.reply(msg, wire.StatusResponse, []byte("status: 1")), true
	case wire.ClusterJoinRequest:
		return s.handleJoin(msg, addr)
	case wire.ManifestRequest:
		return s.handleManifest(msg)
	case wire.CrinfoRequest:
		return s.handleCrinfoRequest(msg)
	case wire.NewCrinfoNotif:
		return s.handleNewCrinfo(msg)
	case wire.BlockRequest:
		return s.handleBlockRequest(msg)
	case wire.PeerlistPush, wire.NoOp:
		return wire.Message{}, false
	default:
		log.Debugf("server: unexpected request type %s from %s", msg.Type, addr)
		return s.reply(msg, wire.UnexpectedReq, nil), true
	}
}

func (s *Server) reply(req wire.Message, t wire.Type, body []byte) wire.Message {
	return wire.Message{
		Type:      t,
		Seqnum:    req.Seqnum + 1,
		ClusterID: req.ClusterID,
		SenderID:  s.ID,
		Body:      body,
	}
}

func (s *Server) handleJoin(msg wire.Message, addr *net.UDPAddr) (wire.Message, bool) {
	c, ok := s.clusterFor(msg.ClusterID)
	if !ok {
		return s.reply(msg, wire.InvalidReq, []byte("No such cluster.")), true
	}
	c.Join(msg.SenderID, addr)

	peers := c.Peers()
	resp := s.reply(msg, wire.ClusterJoinResponse, cluster.EncodePeerList(peers))

	others := c.PeersExcept(msg.SenderID)
	go s.pushPeerListTo(msg.ClusterID, others, peers)

	return resp, true
}

func (s *Server) handleManifest(msg wire.Message) (wire.Message, bool) {
	s.mu.RLock()
	names := make([]string, 0, len(s.fileinfoMap))
	for name := range s.fileinfoMap {
		names = append(names, name)
	}
	s.mu.RUnlock()

	content := fileinfo.EncodeManifest(names)
	f, err := s.manifestDir.AddFile(manifestFilename, content)
	if err != nil {
		log.Errorf("server: failed to rewrite manifest: %v", err)
		return s.reply(msg, wire.ServerError, nil), true
	}
	return s.reply(msg, wire.ManifestResponse, f.Info.MarshalCRINFO()), true
}

func (s *Server) handleCrinfoRequest(msg wire.Message) (wire.Message, bool) {
	name, ok := parseFilenameField(msg.Body)
	if !ok {
		return s.reply(msg, wire.InvalidReq, []byte("unknown filename")), true
	}
	s.mu.RLock()
	info, known := s.fileinfoMap[name]
	s.mu.RUnlock()
	if !known {
		return s.reply(msg, wire.InvalidReq, []byte("unknown filename")), true
	}
	return s.reply(msg, wire.CrinfoResponse, info.MarshalCRINFO()), true
}

func parseFilenameField(body []byte) (string, bool) {
	const prefix = "filename: "
	s := string(body)
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return strings.TrimPrefix(s, prefix), true
}

func (s *Server) handleNewCrinfo(msg wire.Message) (wire.Message, bool) {
	parts := strings.SplitN(string(msg.Body), "\r\n\r\n", 2)
	if len(parts) != 2 {
		return s.reply(msg, wire.InvalidReq, nil), true
	}
	filename := parts[0]
	info, err := fileinfo.ParseCRINFO(filename, []byte(parts[1]))
	if err != nil {
		return s.reply(msg, wire.InvalidReq, nil), true
	}

	s.mu.Lock()
	_, exists := s.fileinfoMap[filename]
	if !exists {
		s.fileinfoMap[filename] = info
	}
	s.mu.Unlock()

	if exists {
		return s.reply(msg, wire.NewCrinfoNotifAck, []byte("error: exists")), true
	}
	if _, err := s.descriptors.AddFileInfo(filename, info.MarshalCRINFO()); err != nil {
		log.Errorf("server: failed to persist new descriptor %q: %v", filename, err)
		return s.reply(msg, wire.ServerError, nil), true
	}
	return s.reply(msg, wire.NewCrinfoNotifAck, []byte("success")), true
}

func (s *Server) handleBlockRequest(msg wire.Message) (wire.Message, bool) {
	block, ok := wire.UnpackBlock(msg.Body)
	if !ok {
		return s.reply(msg, wire.InvalidReq, nil), true
	}

	f, ok := s.manifestDir.Get(manifestFilename)
	if !ok || block.FileHash != f.Info.FileHash {
		return s.reply(msg, wire.InvalidReq, []byte("server only serves the manifest file")), true
	}
	if int(block.BlockID) >= len(f.Blocks) {
		log.Warnf("server: block id %d out of range for manifest, replying with a miss", block.BlockID)
		return s.reply(msg, wire.BlockResponse, nil), true
	}
	b := f.Blocks[block.BlockID]
	if !b.Downloaded() {
		log.Warnf("server: manifest block %d not present, replying with a miss", block.BlockID)
		return s.reply(msg, wire.BlockResponse, nil), true
	}
	return s.reply(msg, wire.BlockResponse, b.Pack()), true
}
