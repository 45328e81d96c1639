package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"nft_marketplace/api"
	"nft_marketplace/internal/config"
	"nft_marketplace/internal/deploy"
	"nft_marketplace/internal/marketplace"
)

func writeConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Frontend.AddressesFile = filepath.Join(dir, "constants", "networkMapping.json")
	cfg.Frontend.ABIDir = filepath.Join(dir, "constants")
	cfg.Log.Level = "error"

	path := filepath.Join(dir, "marketplace.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path, cfg
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExportCommand(t *testing.T) {
	path, cfg := writeConfig(t)

	out, err := run(t, "export", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "written to")

	data, err := os.ReadFile(cfg.Frontend.AddressesFile)
	require.NoError(t, err)
	var mapping map[string][]string
	require.NoError(t, json.Unmarshal(data, &mapping))
	assert.Len(t, mapping["31337"], 1)
	assert.FileExists(t, filepath.Join(cfg.Frontend.ABIDir, "NftMarketplace.json"))
}

func TestMintAndListCommand(t *testing.T) {
	path, cfg := writeConfig(t)
	gin.SetMode(gin.TestMode)

	d, err := deploy.Deploy(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	router := gin.New()
	h := api.InitRoutes(router, api.Options{Deployment: d, Config: cfg, Logger: zaptest.NewLogger(t)})
	srv := httptest.NewServer(router)
	defer srv.Close()
	defer h.Close()

	out, err := run(t, "mint-and-list", "--config", path, "--api", srv.URL, "--account", "deployer", "--price", "0.02")
	require.NoError(t, err)
	assert.Contains(t, out, "at 0.02 ETH")

	listing, ok, err := d.GetListing(context.Background(), marketplace.ListingKey{NFT: d.NFTAddress, TokenID: 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d.Deployer, listing.Seller)
	assert.Equal(t, "20000000000000000", listing.Price.String())
}

func TestMintAndListCommand_UnknownAccount(t *testing.T) {
	path, cfg := writeConfig(t)
	gin.SetMode(gin.TestMode)

	d, err := deploy.Deploy(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	router := gin.New()
	h := api.InitRoutes(router, api.Options{Deployment: d, Config: cfg, Logger: zaptest.NewLogger(t)})
	srv := httptest.NewServer(router)
	defer srv.Close()
	defer h.Close()

	_, err = run(t, "mint-and-list", "--config", path, "--api", srv.URL, "--account", "mallory", "--price", "0.02")
	assert.ErrorContains(t, err, "login as mallory")
}
