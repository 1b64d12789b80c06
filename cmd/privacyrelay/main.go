// Command privacyrelay runs one role of the privacy-preserving sensor relay.
//
// # Roles
//
// proxy: Accepts registrations of data origins, observes their sensors and
// relays every encrypted reading, unchanged, on a forwarding channel per SSP.
//
// origin: Serves sensors, encrypts readings for its SSP under rotating
// pseudonyms and registers with the proxy. Readings are read from stdin as
// "<sensor> <value>" lines.
//
// ssp: Hands out its certificate, observes the forwarding channels announced
// by the proxy and stores decrypted readings.
//
// pseudonym: Recomputes the current pseudonym of a sensor out of band.
//
// demo: Runs an SSP, a proxy and a number of origins in one process.
//
// # Configuration File
//
// Every role reads its section of a YAML or TOML file:
//
//	log:
//	  level: info
//	proxy:
//	  origin_listen_addr: "127.0.0.1:5683"
//	  ssp_listen_addr: "127.0.0.1:5684"
//	origin:
//	  listen_addr: "127.0.0.1:5685"
//	  proxy_addr: "127.0.0.1:5683"
//	  ssp_addr: "127.0.0.1:5686"
//	  secrets_file: "secrets.db"
//	  sensors:
//	    - name: temperature
//	      serialization: TURTLE
//	ssp:
//	  listen_addr: "127.0.0.1:5686"
//	  cert_file: "ssp.crt"
//	  key_file: "ssp.key"
//
// # Usage
//
//	privacyrelay ssp -f relay.yaml
//	privacyrelay proxy -f relay.yaml
//	privacyrelay origin -f relay.yaml
//	privacyrelay pseudonym --secrets-file=secrets.db --id=127.0.0.1:5685/temperature
//	privacyrelay demo --origins=3 --sensors=2
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/cmd/common"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by all roles.
type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg *common.Config
	log *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "privacyrelay",
		Short: "Privacy-preserving relay of encrypted sensor readings",
		Long: `privacyrelay relays encrypted, pseudonymised sensor readings from data
origins through a privacy proxy to a smart service proxy (SSP). The proxy
never learns the readings and the SSP never learns which origin sent them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "f", "",
		"path to the configuration file (YAML or TOML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false,
		"log as JSON")

	cmd.AddCommand(
		newProxyCommand(opts),
		newOriginCommand(opts),
		newSSPCommand(opts),
		newPseudonymCommand(opts),
		newDemoCommand(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg := common.DefaultConfig()
	if o.configPath != "" {
		var err error
		cfg, err = common.LoadConfig(o.configPath)
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if o.logJSON {
		cfg.Log.JSON = true
	}

	log, err := common.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.log = log
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
