package peer

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/filefabric/ctp/cluster"
	"github.com/filefabric/ctp/fileinfo"
	"github.com/filefabric/ctp/wire"
)

const manifestFilename = ".crmanifest"

// Join sends CLUSTER_JOIN_REQUEST to the server and populates the local
// peer map from the response.
func (p *Peer) Join() error {
	resp, ok, err := p.SendRequest(wire.ClusterJoinRequest, nil, p.ServerAddr, p.Timeout, p.JoinRetries)
	if err != nil {
		return fmt.Errorf("%w: join: %v", ErrPeerError, err)
	}
	if !ok || resp.Type != wire.ClusterJoinResponse {
		return fmt.Errorf("%w: join: unexpected response %s", ErrServerConnectionError, resp.Type)
	}
	peers, err := cluster.DecodePeerList(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: join: %v", ErrServerConnectionError, err)
	}
	p.peers.Replace(peers, p.ID)
	return nil
}

// SyncManifest fetches the manifest descriptor, downloads the manifest
// file block-by-block from the server, and returns the parsed filename
// list.
func (p *Peer) SyncManifest() ([]string, error) {
	resp, ok, err := p.SendRequest(wire.ManifestRequest, nil, p.ServerAddr, p.Timeout, p.PeerRequestRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest descriptor: %v", ErrServerConnectionError, err)
	}
	if !ok || resp.Type != wire.ManifestResponse {
		return nil, fmt.Errorf("%w: manifest descriptor: unexpected response %s", ErrServerConnectionError, resp.Type)
	}
	info, err := fileinfo.ParseCRINFO(manifestFilename, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest descriptor: %v", ErrServerConnectionError, err)
	}

	f, ok := p.manifest.Get(manifestFilename)
	if !ok || !f.Info.Equal(info) {
		f, err = p.manifest.AddFileInfo(manifestFilename, info.MarshalCRINFO())
		if err != nil {
			return nil, fmt.Errorf("%w: manifest descriptor: %v", ErrServerConnectionError, err)
		}
	}

	for _, id := range f.MissingBlockIDs() {
		if err := p.fetchBlockFromServer(f, id); err != nil {
			return nil, fmt.Errorf("%w: manifest block %d: %v", ErrServerConnectionError, id, err)
		}
		if err := p.manifest.PersistFile(manifestFilename); err != nil {
			return nil, fmt.Errorf("%w: persist manifest: %v", ErrServerConnectionError, err)
		}
	}

	content, err := f.Content()
	if err != nil {
		return nil, fmt.Errorf("%w: manifest incomplete after sync: %v", ErrServerConnectionError, err)
	}
	names, err := fileinfo.DecodeManifest(content)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrServerConnectionError, err)
	}
	return names, nil
}

func (p *Peer) fetchBlockFromServer(f *fileinfo.File, blockID uint32) error {
	reqBlock := wire.Block{FileHash: f.Info.FileHash, BlockID: blockID}
	resp, ok, err := p.SendRequest(wire.BlockRequest, reqBlock.Pack(), p.ServerAddr, p.Timeout, p.ManifestFetchRetries)
	if err != nil {
		return err
	}
	if !ok || resp.Type != wire.BlockResponse {
		return fmt.Errorf("unexpected response %s", resp.Type)
	}
	block, valid := wire.UnpackBlock(resp.Body)
	if !valid || !block.Downloaded() {
		return fmt.Errorf("server does not have block %d", blockID)
	}
	return f.FillBlock(block)
}

// FetchMissingDescriptors requests a CRINFO for every filename in
// manifestFilelist not already present locally, installing each as an
// empty placeholder file.
func (p *Peer) FetchMissingDescriptors(manifestFilelist []string) error {
	for _, name := range manifestFilelist {
		if _, ok := p.content.Get(name); ok {
			continue
		}
		body := []byte("filename: " + name)
		resp, ok, err := p.SendRequest(wire.CrinfoRequest, body, p.ServerAddr, p.Timeout, p.PeerRequestRetries)
		if err != nil {
			log.Warnf("peer: failed to fetch descriptor for %q: %v", name, err)
			continue
		}
		if !ok || resp.Type != wire.CrinfoResponse {
			log.Warnf("peer: unexpected response fetching descriptor for %q: %s", name, resp.Type)
			continue
		}
		if _, err := p.content.AddFileInfo(name, resp.Body); err != nil {
			log.Warnf("peer: failed to install descriptor for %q: %v", name, err)
		}
	}
	return nil
}

// SyncFiles pulls every missing block of every non-downloaded file from
// peers, round-robin, persisting progress as each block lands.
func (p *Peer) SyncFiles() error {
	for _, name := range p.content.Filenames() {
		f, ok := p.content.Get(name)
		if !ok || f.Downloaded() {
			continue
		}
		if err := p.syncFile(name, f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Peer) syncFile(name string, f *fileinfo.File) error {
	for _, blockID := range f.MissingBlockIDs() {
		if f.Blocks[blockID].Downloaded() {
			continue
		}
		for {
			if p.peers.Len() == 0 {
				log.Warnf("peer: no peers available to fetch %q block %d, stopping sync", name, blockID)
				return nil
			}
			dest, ok := p.peers.Next()
			if !ok {
				return nil
			}
			reqBlock := wire.Block{FileHash: f.Info.FileHash, BlockID: blockID}
			resp, ok, err := p.SendRequest(wire.BlockRequest, reqBlock.Pack(), dest.Addr, p.Timeout, p.PeerRequestRetries)
			if err != nil {
				log.Infof("peer: evicting %s after failed block request: %v", dest.PeerID, err)
				p.peers.Evict(dest.PeerID)
				continue
			}
			if !ok || resp.Type != wire.BlockResponse {
				continue
			}
			block, valid := wire.UnpackBlock(resp.Body)
			if !valid || !block.Downloaded() {
				continue
			}
			if err := f.FillBlock(block); err != nil {
				return fmt.Errorf("peer: %w", err)
			}
			if err := p.content.PersistFile(name); err != nil {
				return fmt.Errorf("peer: persist %q: %w", name, err)
			}
			break
		}
	}
	return nil
}

// Share announces every locally-downloaded file not yet in the manifest
// to the server, resyncing the manifest after a successful notification.
func (p *Peer) Share() error {
	manifestContent, err := p.manifestFileOrEmpty()
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(manifestContent))
	for _, name := range manifestContent {
		known[name] = true
	}

	resynced := false
	for _, name := range p.content.Filenames() {
		if name == manifestFilename || known[name] {
			continue
		}
		f, ok := p.content.Get(name)
		if !ok || !f.Downloaded() {
			continue
		}
		body := name + "\r\n\r\n" + string(f.Info.MarshalCRINFO())
		resp, ok, err := p.SendRequest(wire.NewCrinfoNotif, []byte(body), p.ServerAddr, p.Timeout, p.PeerRequestRetries)
		if err != nil {
			log.Warnf("peer: failed to announce %q: %v", name, err)
			continue
		}
		if !ok || resp.Type != wire.NewCrinfoNotifAck {
			log.Warnf("peer: unexpected response announcing %q: %s", name, resp.Type)
			continue
		}
		if string(resp.Body) == "success" {
			resynced = true
		}
	}

	if resynced {
		if _, err := p.SyncManifest(); err != nil {
			log.Warnf("peer: resync after share failed: %v", err)
		}
	}
	return nil
}

func (p *Peer) manifestFileOrEmpty() ([]string, error) {
	f, ok := p.manifest.Get(manifestFilename)
	if !ok || !f.Downloaded() {
		return nil, nil
	}
	content, err := f.Content()
	if err != nil {
		return nil, fmt.Errorf("peer: %w", errors.Join(ErrServerConnectionError, err))
	}
	return fileinfo.DecodeManifest(content)
}
