package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/transport"
)

// OrchestratorConfig contains local deployment configuration.
type OrchestratorConfig struct {
	NumOrigins       int
	SensorsPerOrigin int

	// Host is the interface all nodes bind to. Ports are picked by the
	// kernel.
	Host string

	// Asymmetric key of the SSP.
	SSPAlgorithm crypto.Algorithm
	SSPKeyBits   int

	SymmetricAlgorithm string
	Serialization      string
	PseudonymWindow    time.Duration
	ContentLifetime    time.Duration

	// PublishInterval is the period of generated demo readings.
	PublishInterval time.Duration

	Log *slog.Logger
}

// Orchestrator runs a complete relay (one SSP, one proxy and a number of
// data origins) in a single process.
type Orchestrator struct {
	config *OrchestratorConfig
	log    *slog.Logger

	servers []*transport.Server
	ssp     *SSP
	proxy   *Proxy
	origins []*DeployedOrigin

	ctx    context.Context
	cancel context.CancelFunc
}

// DeployedOrigin is a running data origin and its sensors.
type DeployedOrigin struct {
	Origin  *DataOrigin
	Addr    string
	Sensors []string
}

// NewOrchestrator creates a deployment orchestrator.
func NewOrchestrator(config *OrchestratorConfig) *Orchestrator {
	cfg := *config
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.NumOrigins <= 0 {
		cfg.NumOrigins = 1
	}
	if cfg.SensorsPerOrigin <= 0 {
		cfg.SensorsPerOrigin = 1
	}
	if cfg.SSPAlgorithm == "" {
		cfg.SSPAlgorithm = crypto.DefaultParameters.AsymmetricAlgorithm
		cfg.SSPKeyBits = crypto.DefaultParameters.AsymmetricKeyBits
	}
	if cfg.Serialization == "" {
		cfg.Serialization = "RDF/XML"
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 5 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config: &cfg,
		log:    cfg.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SSP returns the deployed SSP.
func (o *Orchestrator) SSP() *SSP { return o.ssp }

// Proxy returns the deployed proxy.
func (o *Orchestrator) Proxy() *Proxy { return o.proxy }

// Origins returns the deployed data origins.
func (o *Orchestrator) Origins() []*DeployedOrigin { return o.origins }

// Deploy starts all nodes and registers every origin.
func (o *Orchestrator) Deploy() error {
	o.log.Info("Starting relay deployment")

	// 1. Deploy the SSP
	if err := o.deploySSP(); err != nil {
		return fmt.Errorf("deploy SSP: %w", err)
	}

	// 2. Deploy the proxy
	if err := o.deployProxy(); err != nil {
		return fmt.Errorf("deploy proxy: %w", err)
	}

	// 3. Deploy and register data origins
	if err := o.deployOrigins(); err != nil {
		return fmt.Errorf("deploy origins: %w", err)
	}

	o.log.Info("Deployment complete", "origins", len(o.origins), "ssp", o.ssp != nil, "proxy", o.proxy != nil)
	return nil
}

func (o *Orchestrator) startServer(role string) (*transport.Server, *transport.Client, error) {
	log := o.log.With("node", role)
	srv, err := transport.New(&transport.ServerConfig{
		ListenAddr: o.config.Host + ":0",
		Log:        log,
	})
	if err != nil {
		return nil, nil, err
	}
	srv.RunInBackground()
	o.servers = append(o.servers, srv)
	return srv, transport.NewClient(srv.Addr(), log), nil
}

func (o *Orchestrator) deploySSP() error {
	srv, client, err := o.startServer("ssp")
	if err != nil {
		return err
	}
	identity, err := NewNodeIdentity("ssp", o.config.SSPAlgorithm, o.config.SSPKeyBits, 24*time.Hour)
	if err != nil {
		return err
	}
	o.ssp = NewSSP(&SSPConfig{
		Mux:      srv,
		Client:   client,
		Identity: identity,
		Log:      o.log,
	})
	o.ssp.Start()
	return nil
}

func (o *Orchestrator) deployProxy() error {
	originSide, originClient, err := o.startServer("proxy-origin-side")
	if err != nil {
		return err
	}
	sspSide, sspClient, err := o.startServer("proxy-ssp-side")
	if err != nil {
		return err
	}
	o.proxy = NewProxy(&ProxyConfig{
		OriginMux:    originSide,
		SSPMux:       sspSide,
		OriginClient: originClient,
		SSPClient:    sspClient,
		Log:          o.log,
	})
	o.proxy.Start()
	return nil
}

func (o *Orchestrator) deployOrigins() error {
	sspAddr := o.servers[0].Addr()
	proxyAddr := o.servers[1].Addr()

	for i := 0; i < o.config.NumOrigins; i++ {
		srv, client, err := o.startServer(fmt.Sprintf("origin-%d", i))
		if err != nil {
			return err
		}
		origin := NewDataOrigin(&OriginConfig{
			Mux:                srv,
			Client:             client,
			ProxyAddr:          proxyAddr,
			SSPAddr:            sspAddr,
			PseudonymWindow:    o.config.PseudonymWindow,
			SymmetricAlgorithm: o.config.SymmetricAlgorithm,
			ContentLifetime:    o.config.ContentLifetime,
			Log:                o.log.With("node", fmt.Sprintf("origin-%d", i)),
		})

		deployed := &DeployedOrigin{Origin: origin, Addr: srv.Addr()}
		for j := 0; j < o.config.SensorsPerOrigin; j++ {
			name := fmt.Sprintf("sensor%d", j+1)
			if err := origin.AddSensor(name, o.config.Serialization); err != nil {
				return err
			}
			deployed.Sensors = append(deployed.Sensors, name)
		}

		if err := origin.Start(o.ctx); err != nil {
			return fmt.Errorf("start origin %d: %w", i, err)
		}
		o.origins = append(o.origins, deployed)
	}
	return nil
}

// PublishAll publishes one generated reading on every sensor.
func (o *Orchestrator) PublishAll(ctx context.Context) error {
	for _, d := range o.origins {
		for _, sensor := range d.Sensors {
			reading := []byte(strconv.FormatInt(15+randInt64(15), 10))
			if err := d.Origin.Publish(ctx, sensor, reading); err != nil {
				return fmt.Errorf("publish %s%s: %w", d.Addr, sensor, err)
			}
		}
	}
	return nil
}

// Run publishes readings every PublishInterval until ctx is done or
// Shutdown is called.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.config.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if err := o.PublishAll(ctx); err != nil {
				o.log.Warn("Publishing readings failed", "err", err)
			}
		}
	}
}

// Shutdown stops all nodes.
func (o *Orchestrator) Shutdown() {
	o.log.Info("Shutting down deployment")

	o.cancel()
	if o.proxy != nil {
		o.proxy.Close()
	}
	if o.ssp != nil {
		o.ssp.Close()
	}
	for i := len(o.servers) - 1; i >= 0; i-- {
		o.servers[i].Shutdown()
	}
}

// randInt64 generates a random int64 in [0, max).
func randInt64(max int64) int64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(max))
	return n.Int64()
}
