package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/crypto"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/pseudonym"
	"github.com/Sebastian-Fischer/PrivIoT-sub000/services"
	"github.com/spf13/cobra"
)

func newPseudonymCommand(opts *rootOptions) *cobra.Command {
	var (
		secretsFile string
		secretHex   string
		id          string
		window      time.Duration
		save        bool
	)

	cmd := &cobra.Command{
		Use:   "pseudonym",
		Short: "Print the current pseudonym of a sensor",
		Long: `Recomputes the pseudonym a data origin currently publishes a sensor under.
The sensor is identified by "<origin endpoint>/<sensor>". The secret is taken
from --secret or looked up in the origin's secrets file. With --save, a secret
given by --secret is written to the secrets file so the origin publishes under
it from then on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return errors.New("required flag \"id\" not set")
			}
			if window <= 0 {
				window = opts.cfg.Origin.PseudonymWindow
			}
			if secretsFile == "" {
				secretsFile = opts.cfg.Origin.SecretsFile
			}

			if save && (secretHex == "" || secretsFile == "") {
				return errors.New("--save needs both --secret and --secrets-file")
			}

			var secret []byte
			switch {
			case secretHex != "":
				var err error
				if secret, err = hex.DecodeString(secretHex); err != nil {
					return fmt.Errorf("invalid hex secret: %w", err)
				}
				if save {
					if err := saveSecret(secretsFile, id, secret); err != nil {
						return err
					}
				}
			case secretsFile != "":
				store, err := pseudonym.OpenSecretStore(secretsFile)
				if err != nil {
					return err
				}
				defer store.Close()
				if secret, err = store.Get(id); err != nil {
					return err
				}
			default:
				return errors.New("either --secret or --secrets-file is required")
			}

			p, err := pseudonym.Generate(id, window, secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVar(&secretsFile, "secrets-file", "", "secrets database of the data origin")
	cmd.Flags().StringVar(&secretHex, "secret", "", "hex-encoded secret shared out of band")
	cmd.Flags().StringVar(&id, "id", "", "sensor identifier, e.g. 127.0.0.1:5685/temperature")
	cmd.Flags().DurationVar(&window, "window", 0, "pseudonym rotation window")
	cmd.Flags().BoolVar(&save, "save", false, "store --secret for the sensor in the secrets file")
	return cmd
}

func saveSecret(path, id string, secret []byte) error {
	store, err := pseudonym.OpenSecretStore(path)
	if err != nil {
		return err
	}
	if err := store.Set(id, secret); err != nil {
		store.Close()
		return fmt.Errorf("save secret: %w", err)
	}
	return store.Close()
}

func newDemoCommand(opts *rootOptions) *cobra.Command {
	cfg := services.OrchestratorConfig{}
	var sspAlgorithm string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an SSP, a proxy and data origins in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg.SSPAlgorithm = crypto.ParseAlgorithm(sspAlgorithm)
			cfg.Log = opts.log
			orchestrator := services.NewOrchestrator(&cfg)
			defer orchestrator.Shutdown()

			if err := orchestrator.Deploy(); err != nil {
				return err
			}
			for _, o := range orchestrator.Origins() {
				opts.log.Info("Data origin", "addr", o.Addr, "sensors", o.Sensors)
			}

			orchestrator.Run(ctx)
			return nil
		},
	}
	cmd.Flags().IntVar(&cfg.NumOrigins, "origins", 2, "number of data origins")
	cmd.Flags().IntVar(&cfg.SensorsPerOrigin, "sensors", 2, "sensors per data origin")
	cmd.Flags().StringVar(&cfg.Host, "host", "127.0.0.1", "interface all nodes bind to")
	cmd.Flags().StringVar(&sspAlgorithm, "ssp-algorithm", string(crypto.RSA), "asymmetric algorithm of the SSP (RSA or ECIES)")
	cmd.Flags().IntVar(&cfg.SSPKeyBits, "ssp-key-bits", crypto.DefaultParameters.AsymmetricKeyBits, "key size of the SSP")
	cmd.Flags().StringVar(&cfg.SymmetricAlgorithm, "symmetric", crypto.DefaultParameters.AlgorithmCode(), "content cipher, e.g. AES-256")
	cmd.Flags().StringVar(&cfg.Serialization, "serialization", "RDF/XML", "serialization of readings (RDF/XML, N3, TURTLE)")
	cmd.Flags().DurationVar(&cfg.PseudonymWindow, "pseudonym-window", time.Hour, "pseudonym rotation window")
	cmd.Flags().DurationVar(&cfg.PublishInterval, "interval", 5*time.Second, "publish interval")
	return cmd
}
