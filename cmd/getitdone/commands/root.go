// Package commands implements the getitdone command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slyt3/GetItDone/internal/config"
	"github.com/slyt3/GetItDone/internal/core"
	"github.com/slyt3/GetItDone/internal/crypto"
	"github.com/slyt3/GetItDone/internal/events"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/payment"
	"github.com/slyt3/GetItDone/internal/policy"
	"github.com/slyt3/GetItDone/internal/store/sqlite"
)

// operator is the principal offline commands act as.
var operator = models.Principal{ID: "cli", Role: models.RoleAdmin}

type options struct {
	configPath string
	logLevel   string

	cfg        *config.Config
	restoreLog func()
}

// NewRoot returns the getitdone command tree.
func NewRoot() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "getitdone",
		Short:        "Task marketplace with escrow and a signed ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			l, err := logging.New(o.logLevel)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			o.restoreLog = logging.SetLogger(l)
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			o.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logging.Sync()
			if o.restoreLog != nil {
				o.restoreLog()
			}
		},
	}

	level := os.Getenv("GETITDONE_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", "getitdone.yaml", "config file; missing means defaults")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", level, "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(o),
		newVerifyCmd(o),
		newReconcileCmd(o),
		newBalanceCmd(o),
		newRekeyCmd(o),
	)
	return root
}

// runtime is an engine over the configured database and key.
type runtime struct {
	db     *sqlite.DB
	signer *crypto.Signer
	engine *core.Engine
}

func openRuntime(cfg *config.Config, pub events.Publisher, pol *policy.Engine) (*runtime, error) {
	db, err := sqlite.NewDB(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	signer, err := crypto.NewSigner(cfg.Signing.KeyPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("loading signer: %w", err)
	}
	processor := payment.NewSimulated(payment.SimulatedConfig{
		DeclineOver: cfg.Payment.Simulated.DeclineOver,
		Latency:     cfg.Payment.Simulated.Latency,
	})
	engine, err := core.New(core.Options{
		Store:          db,
		Signer:         signer,
		Processor:      processor,
		PaymentTimeout: cfg.Payment.Timeout,
		FeeBps:         cfg.Platform.FeeBps,
		Currency:       cfg.Platform.Currency,
		Publisher:      pub,
		Policy:         pol,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &runtime{db: db, signer: signer, engine: engine}, nil
}

func (r *runtime) Close() {
	if err := r.db.Close(); err != nil {
		logging.Warn("database_close_failed", logging.Fields{Component: "cli", Error: err.Error()})
	}
}
