// Command peer is a thin CLI front end for peer.Peer: each invocation
// constructs a peer from a config file and runs exactly one operation,
// suitable for scripting around (no interactive command loop).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/filefabric/ctp/internal/config"
	"github.com/filefabric/ctp/peer"
)

func main() {
	app := cli.NewApp()
	app.Name = "peer"
	app.Usage = "run one CTP peer operation"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a peer TOML config file", Required: true},
	}
	app.Commands = []cli.Command{
		{Name: "scan", Usage: "rescan the shared directory", Action: run(scanOp)},
		{Name: "join", Usage: "join the configured cluster", Action: run(joinOp)},
		{Name: "sync-manifest", Usage: "fetch and print the manifest filelist", Action: run(syncManifestOp)},
		{Name: "sync-files", Usage: "fetch missing descriptors and blocks for manifest files", Action: run(syncFilesOp)},
		{Name: "share", Usage: "announce locally-downloaded files to the server", Action: run(shareOp)},
		{Name: "serve", Usage: "listen and block serving requests until interrupted", Action: run(serveOp)},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "peer: %v\n", err)
		os.Exit(1)
	}
}

func run(op func(ctx context.Context, p *peer.Peer) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.LoadPeerConfig(c.GlobalString("config"))
		if err != nil {
			return err
		}
		serverAddr, err := resolveUDPAddr(cfg.ServerAddr)
		if err != nil {
			return err
		}
		p, err := peer.New(cfg.ListenAddr, cfg.ClusterID, cfg.PeerID, cfg.SharedDirPath, serverAddr)
		if err != nil {
			return err
		}
		p.Timeout = time.Duration(cfg.Timeout)
		p.JoinRetries = cfg.JoinRetries
		p.PeerRequestRetries = cfg.PeerRequestRetries
		p.ManifestFetchRetries = cfg.ManifestFetchRetries

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Info("peer: received shutdown signal")
			cancel()
		}()

		if err := p.Listen(ctx); err != nil {
			return err
		}
		defer p.End()

		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(p.Metrics.Prometheus, promhttp.HandlerOpts{}))
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					log.Errorf("peer: metrics endpoint: %v", err)
				}
			}()
		}

		return op(ctx, p)
	}
}

func resolveUDPAddr(addr string) (*net.UDPAddr, error) {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: resolve server address %q: %w", addr, err)
	}
	return resolved, nil
}

func scanOp(_ context.Context, p *peer.Peer) error {
	return p.Scan()
}

func joinOp(_ context.Context, p *peer.Peer) error {
	return p.Join()
}

func syncManifestOp(_ context.Context, p *peer.Peer) error {
	names, err := p.SyncManifest()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func syncFilesOp(_ context.Context, p *peer.Peer) error {
	names, err := p.SyncManifest()
	if err != nil {
		return err
	}
	if err := p.FetchMissingDescriptors(names); err != nil {
		return err
	}
	return p.SyncFiles()
}

func shareOp(_ context.Context, p *peer.Peer) error {
	return p.Share()
}

func serveOp(ctx context.Context, _ *peer.Peer) error {
	<-ctx.Done()
	return nil
}
