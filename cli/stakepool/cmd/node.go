package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alphabill-org/stakepool/deposit"
	"github.com/alphabill-org/stakepool/factory"
	"github.com/alphabill-org/stakepool/funds"
	"github.com/alphabill-org/stakepool/internal/keyvaluedb/boltdb"
	"github.com/alphabill-org/stakepool/internal/logger"
	"github.com/alphabill-org/stakepool/pool"
	"github.com/alphabill-org/stakepool/rpc"
)

const (
	nodeHomeDir   = "node"
	nodeDBFile    = "stakepool.db"
	defaultServer = "localhost:9754"

	serverAddrCmdName        = "address"
	dbFileCmdName            = "db"
	factoryAddrCmdName       = "factory"
	unitSizeCmdName          = "unit-size"
	requireActivationCmdName = "require-activation"
	verifyRootCmdName        = "verify-root"
)

var log = logger.CreateForPackage()

type nodeConfig struct {
	Base              *baseConfiguration
	ServerAddr        string
	DbFile            string
	FactoryAddress    string
	UnitSize          string
	RequireActivation bool
	VerifyRoot        bool
}

func (c *nodeConfig) dbFile() string {
	if c.DbFile != "" {
		return c.DbFile
	}
	return filepath.Join(c.Base.HomeDir, nodeHomeDir, nodeDBFile)
}

// poolOptions returns the defaults of pools created by the node. Pools restored from
// the database keep the parameters they were created with.
func (c *nodeConfig) poolOptions() ([]pool.Option, error) {
	opts := []pool.Option{pool.WithRequireActivation(c.RequireActivation)}
	if c.UnitSize != "" {
		unitSize, err := rpc.ParseAmount(c.UnitSize)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", unitSizeCmdName, err)
		}
		opts = append(opts, pool.WithUnitSize(unitSize))
	}
	return opts, nil
}

// newNodeCmd creates a new cobra command for running the staking pool node.
func newNodeCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &nodeConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "node",
		Short: "Starts a staking pool node",
		Long:  "Starts a staking pool node which hosts the pool factory, persists pools in a database and serves the REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), config)
		},
	}
	cmd.Flags().StringVarP(&config.ServerAddr, serverAddrCmdName, "s", defaultServer, "REST server address")
	cmd.Flags().StringVarP(&config.DbFile, dbFileCmdName, "f", "", fmt.Sprintf("path to the database file (default: $SP_HOME/%s/%s)", nodeHomeDir, nodeDBFile))
	cmd.Flags().StringVar(&config.FactoryAddress, factoryAddrCmdName, "", "address of the pool factory, pool addresses are derived from it (required)")
	cmd.Flags().StringVar(&config.UnitSize, unitSizeCmdName, "", "validator deposit size in wei of new pools (default 32 ETH)")
	cmd.Flags().BoolVar(&config.RequireActivation, requireActivationCmdName, false, "new pools stay in staking state until the operator confirms validator activation")
	cmd.Flags().BoolVar(&config.VerifyRoot, verifyRootCmdName, false, "reject deposits whose deposit data root does not match the credentials")
	return cmd
}

func runNode(ctx context.Context, config *nodeConfig) (rErr error) {
	factoryAddr, err := rpc.ParseAddress(config.FactoryAddress)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", factoryAddrCmdName, err)
	}
	poolOpts, err := config.poolOptions()
	if err != nil {
		return err
	}

	db, err := boltdb.New(config.dbFile())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			rErr = errors.Join(rErr, fmt.Errorf("closing database: %w", err))
		}
	}()

	ledger, err := funds.NewLedger(db)
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}
	var recorderOpts []deposit.RecorderOption
	if config.VerifyRoot {
		recorderOpts = append(recorderOpts, deposit.WithRootVerification())
	}
	poolOpts = append(poolOpts, pool.WithRegistrar(deposit.NewRecorder(recorderOpts...)), pool.WithPayer(ledger))

	f, err := factory.New(factoryAddr, factory.WithDB(db), factory.WithPoolOptions(poolOpts...))
	if err != nil {
		return fmt.Errorf("loading pool factory: %w", err)
	}
	log.Info("pool factory %s loaded with %d pools", f.Address(), f.Count())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server := http.Server{
			Addr:              config.ServerAddr,
			Handler:           rpc.NewRestAPI(f, ledger).Router(),
			ReadTimeout:       3 * time.Second,
			ReadHeaderTimeout: time.Second,
			WriteTimeout:      5 * time.Second,
			IdleTimeout:       30 * time.Second,
		}
		log.Info("starting REST API on %s", config.ServerAddr)
		return httpsrv.Run(ctx, server, httpsrv.ShutdownTimeout(5*time.Second))
	})
	return g.Wait()
}
