// Package cli implements the nftmarketplace command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nft_marketplace/api"
	"nft_marketplace/internal/client"
	"nft_marketplace/internal/config"
	"nft_marketplace/internal/deploy"
	"nft_marketplace/internal/indexer"
	"nft_marketplace/internal/marketplace"
)

var rootCmd = &cobra.Command{
	Use:   "nftmarketplace",
	Short: "NFT marketplace on a local development chain",
	Long: `nftmarketplace deploys an escrow-free NFT marketplace and a BasicNFT
collection on an in-process development chain and serves them over HTTP.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Deploy the contracts and start the HTTP API",
	RunE:  runServe,
}

var mintAndListCmd = &cobra.Command{
	Use:   "mint-and-list",
	Short: "Mint a BasicNFT, approve the marketplace and list it",
	RunE:  runMintAndList,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Deploy the contracts and write frontend address and ABI files",
	RunE:  runExport,
}

var (
	configPath string
	debug      bool
	listenAddr string
	apiURL     string
	account    string
	price      string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "marketplace.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override listen address")

	mintAndListCmd.Flags().StringVar(&apiURL, "api", "http://localhost:8081", "marketplace API base URL")
	mintAndListCmd.Flags().StringVar(&account, "account", deploy.DeployerAccount, "named account to mint and list as")
	mintAndListCmd.Flags().StringVar(&price, "price", "0.02", "listing price in ether")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mintAndListCmd)
	rootCmd.AddCommand(exportCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zcfg.Level = level
	}
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zcfg.Build()
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}

	d, err := deploy.Deploy(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to deploy contracts: %w", err)
	}
	if err := deploy.ExportFrontend(d, cfg.ChainID, cfg.Frontend, logger); err != nil {
		logger.Warn("failed to update frontend files", zap.Error(err))
	}

	var idx *indexer.Indexer
	if cfg.Indexer.DSN != "" {
		idx, err = indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger)
		if err != nil {
			return err
		}
		defer idx.Close()
		idx.Follow(d.Events)
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	h := api.InitRoutes(router, api.Options{Deployment: d, Indexer: idx, Config: cfg, Logger: logger})
	defer h.Close()

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("marketplace API listening", zap.String("addr", cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error trying to start server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMintAndList(cmd *cobra.Command, args []string) error {
	_, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	c := client.New(apiURL, logger)
	defer c.Close()

	if err := c.Login(ctx, account); err != nil {
		return fmt.Errorf("login as %s: %w", account, err)
	}
	contracts, err := c.Contracts(ctx)
	if err != nil {
		return err
	}

	logger.Info("minting NFT", zap.Stringer("collection", contracts.BasicNFT))
	minted, err := c.Mint(ctx, contracts.BasicNFT)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	key := marketplace.ListingKey{NFT: contracts.BasicNFT, TokenID: *minted.TokenID}

	logger.Info("approving marketplace", zap.Stringer("key", key))
	if _, err := c.Approve(ctx, key, contracts.Marketplace); err != nil {
		return fmt.Errorf("approve: %w", err)
	}

	logger.Info("listing NFT", zap.Stringer("key", key), zap.String("price", price))
	listed, err := c.ListItem(ctx, key, price)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	logger.Info("listed", zap.Stringer("key", key), zap.String("tx_id", listed.TxID))
	fmt.Fprintf(cmd.OutOrStdout(), "listed %s at %s ETH\n", key, price)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	d, err := deploy.Deploy(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to deploy contracts: %w", err)
	}
	cfg.Frontend.Update = true
	if err := deploy.ExportFrontend(d, cfg.ChainID, cfg.Frontend, logger); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "marketplace %s written to %s\n", d.MarketplaceAddress, cfg.Frontend.AddressesFile)
	return nil
}
