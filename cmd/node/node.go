package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/certusone/wormhole/portal/pkg/common"
	"github.com/certusone/wormhole/portal/pkg/core"
	"github.com/certusone/wormhole/portal/pkg/db"
	"github.com/certusone/wormhole/portal/pkg/ft"
	"github.com/certusone/wormhole/portal/pkg/host"
	"github.com/certusone/wormhole/portal/pkg/portal"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func init() {
	f := NodeCmd.Flags()
	f.String("dataDir", "", "Database directory (in-memory if blank)")
	f.String("portalAccount", "portal.wormhole", "Account the portal is deployed to")
	f.String("coreAccount", "core.wormhole", "Account of the core bridge")
	f.String("ownerKey", "", "Owner public key, ed25519:<base58>")
	f.String("storageByteCost", "10000000000000000000", "Cost of one byte of storage in yocto")
	f.String("messageFee", "0", "Core bridge message fee in yocto")
	f.String("guardianSet", "", "Comma separated guardian addresses of guardian set 0")
	f.String("apiAddr", "[::]:7071", "Listen address for the portal API")
	f.String("statusAddr", "[::]:6060", "Listen address for status server (disabled if blank)")
	f.String("guardianSetFile", "", "JSON file with later guardian sets, watched for changes (disabled if blank)")
	f.String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
	f.String("logFormat", "text", "Log format (text, json)")
	bindFlags(f)
}

func bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})
}

// NodeCmd runs a local portal node
var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the token bridge portal on an in-process host",
	Run:   runNode,
}

type settings struct {
	DataDir         string
	PortalAccount   host.AccountID
	CoreAccount     host.AccountID
	OwnerKey        host.PublicKey
	StorageByteCost *uint256.Int
	MessageFee      *uint256.Int
	GuardianSet     *core.GuardianSet
}

func loadSettings() (*settings, error) {
	s := &settings{
		DataDir:       viper.GetString("dataDir"),
		PortalAccount: host.AccountID(viper.GetString("portalAccount")),
		CoreAccount:   host.AccountID(viper.GetString("coreAccount")),
	}
	if s.PortalAccount == "" || s.CoreAccount == "" {
		return nil, errors.New("--portalAccount and --coreAccount must be set")
	}

	var err error
	if s.OwnerKey, err = host.ParsePublicKey(viper.GetString("ownerKey")); err != nil {
		return nil, fmt.Errorf("--ownerKey: %w", err)
	}
	if s.StorageByteCost, err = host.ParseBalance(viper.GetString("storageByteCost")); err != nil {
		return nil, fmt.Errorf("--storageByteCost: %w", err)
	}
	if s.MessageFee, err = host.ParseBalance(viper.GetString("messageFee")); err != nil {
		return nil, fmt.Errorf("--messageFee: %w", err)
	}
	if s.GuardianSet, err = core.ParseGuardianSet(0, viper.GetString("guardianSet")); err != nil {
		return nil, fmt.Errorf("--guardianSet: %w", err)
	}
	return s, nil
}

// Node wires the portal, the core bridge and the wrapped token code into one host runtime.
type Node struct {
	logger    *zap.Logger
	settings  *settings
	db        *db.PortalDB
	rt        *host.Runtime
	exec      *executor
	verifier  *core.Verifier
	published *core.MemoryPublisher
}

func newNode(logger *zap.Logger, s *settings) (*Node, error) {
	var (
		pdb *db.PortalDB
		err error
	)
	if s.DataDir == "" {
		pdb, err = db.OpenInMemory(logger)
	} else {
		pdb, err = db.Open(logger, s.DataDir)
	}
	if err != nil {
		return nil, err
	}

	rt := host.NewRuntime(logger, s.StorageByteCost)
	n := &Node{
		logger:    logger,
		settings:  s,
		db:        pdb,
		rt:        rt,
		exec:      newExecutor(rt),
		verifier:  core.NewVerifier(s.GuardianSet),
		published: &core.MemoryPublisher{},
	}

	cfg := portal.DefaultConfig()
	cfg.OwnerKey = s.OwnerKey
	rt.RegisterCode(cfg.WrappedTokenCode, ft.Factory(logger))

	if err := rt.CreateAccount(s.PortalAccount, new(uint256.Int), s.OwnerKey); err != nil {
		pdb.Close()
		return nil, err
	}
	if err := rt.CreateAccount(s.CoreAccount, new(uint256.Int)); err != nil {
		pdb.Close()
		return nil, err
	}
	bridge := core.NewBridge(logger, n.verifier, &core.LogPublisher{Logger: logger, Next: n.published}, s.MessageFee)
	if err := rt.Install(s.CoreAccount, bridge); err != nil {
		pdb.Close()
		return nil, err
	}
	if err := rt.Install(s.PortalAccount, portal.New(logger, pdb, cfg)); err != nil {
		pdb.Close()
		return nil, err
	}
	return n, nil
}

func statusRouter() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	return router
}

// boot boots the portal unless its database says it already was.
func (n *Node) boot(ctx context.Context) error {
	txn := n.db.BeginRead()
	state, _, err := txn.GetBootState()
	txn.Discard()
	if err != nil {
		return err
	}
	if state.Booted {
		n.logger.Info("portal already booted", zap.Stringer("core", state.Core))
		return nil
	}

	rc, err := n.exec.execute(ctx, host.Call{
		Signer:   n.settings.PortalAccount,
		SignerPK: n.settings.OwnerKey,
		Receiver: n.settings.PortalAccount,
		Method:   portal.MethodBootPortal,
		Args:     portal.BootPortalArgs{Core: n.settings.CoreAccount},
		Gas:      300 * host.TGas,
	})
	if err != nil {
		return err
	}
	return rc.Err()
}

func (n *Node) Close() error {
	return n.db.Close()
}

func runNode(cmd *cobra.Command, args []string) {
	logger, err := newLogger(viper.GetString("logFormat"), viper.GetString("logLevel"))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	s, err := loadSettings()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Status server
	if statusAddr := viper.GetString("statusAddr"); statusAddr != "" {
		go func() {
			logger.Info("status server listening", zap.String("addr", statusAddr))
			logger.Error("status server crashed", zap.Error(http.ListenAndServe(statusAddr, statusRouter())))
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n, err := newNode(logger, s)
	if err != nil {
		logger.Fatal("failed to set up node", zap.Error(err))
	}
	defer n.Close()

	errC := make(chan error, 3)
	common.RunWithScissors(ctx, errC, "executor", n.exec.run)

	if err := n.boot(ctx); err != nil {
		logger.Fatal("failed to boot portal", zap.Error(err))
	}

	if path := viper.GetString("guardianSetFile"); path != "" {
		common.RunWithScissors(ctx, errC, "guardiansetwatch", newGuardianSetWatcher(logger, path, n.verifier).run)
	}

	server := &http.Server{Addr: viper.GetString("apiAddr"), Handler: newAPI(logger, n).router()}
	common.RunWithScissors(ctx, errC, "api", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()
		logger.Info("portal api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	logger.Info("portal node running",
		zap.Stringer("portal", s.PortalAccount),
		zap.Stringer("core", s.CoreAccount),
		zap.Strings("guardians", s.GuardianSet.KeysAsHexStrings()),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errC:
		logger.Error("node component failed", zap.Error(err))
	}
}
