package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/cmd/common"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/pseudonym"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/services"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/transport"
	"github.com/spf13/cobra"
)

func startServer(listen, advertised, metrics string, log *slog.Logger) (*transport.Server, *transport.Client, error) {
	srv, err := transport.New(&transport.ServerConfig{
		ListenAddr:     listen,
		AdvertisedAddr: advertised,
		MetricsAddr:    metrics,
		Log:            log,
	})
	if err != nil {
		return nil, nil, err
	}
	srv.RunInBackground()
	return srv, transport.NewClient(srv.Addr(), log), nil
}

func newProxyCommand(opts *rootOptions) *cobra.Command {
	var originAddr, sspAddr string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the privacy proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &opts.cfg.Proxy
			if originAddr != "" {
				cfg.OriginListenAddr = originAddr
			}
			if sspAddr != "" {
				cfg.SSPListenAddr = sspAddr
			}
			return runProxy(cfg, opts.log)
		},
	}
	cmd.Flags().StringVar(&originAddr, "origin-addr", "", "listen address for data origins")
	cmd.Flags().StringVar(&sspAddr, "ssp-addr", "", "listen address for SSPs")
	return cmd
}

func runProxy(cfg *common.ProxyConfig, log *slog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	originSide, originClient, err := startServer(cfg.OriginListenAddr, cfg.OriginAdvertisedAddr, cfg.MetricsAddr, log.With("side", "origin"))
	if err != nil {
		return fmt.Errorf("origin-side listener: %w", err)
	}
	defer originSide.Shutdown()

	sspSide, sspClient, err := startServer(cfg.SSPListenAddr, cfg.SSPAdvertisedAddr, "", log.With("side", "ssp"))
	if err != nil {
		return fmt.Errorf("SSP-side listener: %w", err)
	}
	defer sspSide.Shutdown()

	proxy := services.NewProxy(&services.ProxyConfig{
		OriginMux:             originSide,
		SSPMux:                sspSide,
		OriginClient:          originClient,
		SSPClient:             sspClient,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		RequestTimeout:        cfg.RequestTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		NotifyRetries:         cfg.NotifyRetries,
		RenotifyInterval:      cfg.RenotifyInterval,
		Log:                   log,
	})
	proxy.Start()
	defer proxy.Close()

	log.Info("Proxy running", "origin_side", originSide.Addr(), "ssp_side", sspSide.Addr())
	<-ctx.Done()
	log.Info("Shutting down proxy")
	return nil
}

func newSSPCommand(opts *rootOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "ssp",
		Short: "Run a smart service proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &opts.cfg.SSP
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			return runSSP(cfg, opts.log)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", "", "listen address")
	return cmd
}

func runSSP(cfg *common.SSPConfig, log *slog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	identity, err := common.LoadOrGenerateIdentity(cfg, "ssp")
	if err != nil {
		return err
	}
	sink, err := common.NewSink(cfg)
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer sink.Close()

	srv, client, err := startServer(cfg.ListenAddr, cfg.AdvertisedAddr, cfg.MetricsAddr, log)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	ssp := services.NewSSP(&services.SSPConfig{
		Mux:                   srv,
		Client:                client,
		Identity:              identity,
		Sink:                  sink,
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		IdleTimeout:           cfg.IdleTimeout,
		PurgeInterval:         cfg.PurgeInterval,
		Log:                   log,
	})
	ssp.Start()
	defer ssp.Close()

	log.Info("SSP running", "addr", srv.Addr(), "subject", identity.Certificate.Subject.CommonName)
	<-ctx.Done()
	log.Info("Shutting down SSP")
	return nil
}

func newOriginCommand(opts *rootOptions) *cobra.Command {
	var proxyAddr, sspAddr string

	cmd := &cobra.Command{
		Use:   "origin",
		Short: "Run a data origin publishing readings read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &opts.cfg.Origin
			if proxyAddr != "" {
				cfg.ProxyAddr = proxyAddr
			}
			if sspAddr != "" {
				cfg.SSPAddr = sspAddr
			}
			return runOrigin(cfg, cmd.InOrStdin(), opts.log)
		},
	}
	cmd.Flags().StringVar(&proxyAddr, "proxy", "", "origin-side address of the proxy")
	cmd.Flags().StringVar(&sspAddr, "ssp", "", "address of the SSP readings are encrypted for")
	return cmd
}

func runOrigin(cfg *common.OriginConfig, in io.Reader, log *slog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	secrets := pseudonym.NewMemorySecretStore()
	if cfg.SecretsFile != "" {
		var err error
		if secrets, err = pseudonym.OpenSecretStore(cfg.SecretsFile); err != nil {
			return err
		}
	}
	defer secrets.Close()

	srv, client, err := startServer(cfg.ListenAddr, cfg.AdvertisedAddr, cfg.MetricsAddr, log)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	origin := services.NewDataOrigin(&services.OriginConfig{
		Mux:                      srv,
		Client:                   client,
		ProxyAddr:                cfg.ProxyAddr,
		SSPAddr:                  cfg.SSPAddr,
		Secrets:                  secrets,
		PseudonymWindow:          cfg.PseudonymWindow,
		SymmetricAlgorithm:       cfg.SymmetricAlgorithm,
		Legacy:                   cfg.Legacy,
		ContentLifetime:          cfg.ContentLifetime,
		AllowInvalidCertificates: cfg.AllowInvalidCertificates,
		StartTimeout:             cfg.StartTimeout,
		Log:                      log,
	})
	for _, s := range cfg.Sensors {
		if err := origin.AddSensor(s.Name, s.Serialization); err != nil {
			return fmt.Errorf("sensor %q: %w", s.Name, err)
		}
	}
	if err := origin.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Origin running", "addr", srv.Addr(), "sensors", len(cfg.Sensors))
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down origin")
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			name, value, found := strings.Cut(strings.TrimSpace(line), " ")
			if !found {
				log.Warn("Ignoring input, expected \"<sensor> <value>\"", "line", line)
				continue
			}
			if err := origin.Publish(ctx, name, []byte(strings.TrimSpace(value))); err != nil {
				log.Warn("Publish failed", "sensor", name, "err", err)
			}
		}
	}
}
