// Command server runs the CTP control server: it loads a config file,
// registers the configured clusters, and serves joins, manifest, and
// descriptor requests until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/filefabric/ctp/internal/config"
	"github.com/filefabric/ctp/server"
)

func main() {
	app := cli.NewApp()
	app.Name = "server"
	app.Usage = "run the CTP control server"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to a server TOML config file", Required: true},
	}
	app.Action = serve

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	cfg, err := config.LoadServerConfig(c.String("config"))
	if err != nil {
		return err
	}

	s, err := server.New(cfg.ServerID, cfg.SharedDirPath)
	if err != nil {
		return err
	}
	for _, clusterID := range cfg.Clusters {
		s.AddCluster(clusterID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("server: received shutdown signal")
		cancel()
	}()

	if err := s.Listen(ctx, cfg.ListenAddr); err != nil {
		return err
	}
	defer s.End()
	log.Infof("server: listening on %s for %d cluster(s)", s.ListenerAddr(), len(cfg.Clusters))

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Prometheus, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Errorf("server: metrics endpoint: %v", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}
