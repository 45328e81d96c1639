package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"nft_marketplace/internal/config"
)

// Param describes one argument of a contract method or event.
type Param struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed,omitempty"`
}

// Fragment is one entry of a contract interface description.
type Fragment struct {
	Type            string  `json:"type"`
	Name            string  `json:"name"`
	Inputs          []Param `json:"inputs"`
	Outputs         []Param `json:"outputs,omitempty"`
	StateMutability string  `json:"stateMutability,omitempty"`
}

// MarketplaceABI describes the marketplace contract for frontends.
var MarketplaceABI = []Fragment{
	{Type: "error", Name: "NftMarketplace__InsufficientTransfer", Inputs: []Param{}},
	{Type: "error", Name: "NftMarketplace__InvalidPrice", Inputs: []Param{}},
	{Type: "error", Name: "NftMarketplace__MarketplaceNotApproved", Inputs: []Param{}},
	{Type: "error", Name: "NftMarketplace__NftAlreadyListed", Inputs: []Param{}},
	{Type: "error", Name: "NftMarketplace__NftNotListed", Inputs: []Param{}},
	{Type: "error", Name: "NftMarketplace__NoHoldings", Inputs: []Param{}},
	{Type: "error", Name: "NftMarketplace__NotOwner", Inputs: []Param{}},
	{Type: "event", Name: "ItemBought", Inputs: []Param{
		{Name: "buyer", Type: "address", Indexed: true},
		{Name: "nftAddress", Type: "address", Indexed: true},
		{Name: "tokenId", Type: "uint256", Indexed: true},
		{Name: "price", Type: "uint256"},
		{Name: "seller", Type: "address"},
	}},
	{Type: "event", Name: "ItemListed", Inputs: []Param{
		{Name: "seller", Type: "address", Indexed: true},
		{Name: "nftAddress", Type: "address", Indexed: true},
		{Name: "tokenId", Type: "uint256", Indexed: true},
		{Name: "price", Type: "uint256"},
	}},
	{Type: "event", Name: "ItemRemoved", Inputs: []Param{
		{Name: "seller", Type: "address", Indexed: true},
		{Name: "nftAddress", Type: "address", Indexed: true},
		{Name: "tokenId", Type: "uint256", Indexed: true},
	}},
	{Type: "function", Name: "buyItem", StateMutability: "payable", Inputs: []Param{
		{Name: "nftAddress", Type: "address"}, {Name: "tokenId", Type: "uint256"},
	}},
	{Type: "function", Name: "cancelItem", StateMutability: "nonpayable", Inputs: []Param{
		{Name: "nftAddress", Type: "address"}, {Name: "tokenId", Type: "uint256"},
	}},
	{Type: "function", Name: "getHolding", StateMutability: "view",
		Inputs:  []Param{{Name: "seller", Type: "address"}},
		Outputs: []Param{{Name: "", Type: "uint256"}},
	},
	{Type: "function", Name: "getListing", StateMutability: "view",
		Inputs:  []Param{{Name: "nftAddress", Type: "address"}, {Name: "tokenId", Type: "uint256"}},
		Outputs: []Param{{Name: "price", Type: "uint256"}, {Name: "seller", Type: "address"}},
	},
	{Type: "function", Name: "listItem", StateMutability: "nonpayable", Inputs: []Param{
		{Name: "nftAddress", Type: "address"}, {Name: "tokenId", Type: "uint256"}, {Name: "price", Type: "uint256"},
	}},
	{Type: "function", Name: "updateItem", StateMutability: "nonpayable", Inputs: []Param{
		{Name: "nftAddress", Type: "address"}, {Name: "tokenId", Type: "uint256"}, {Name: "newPrice", Type: "uint256"},
	}},
	{Type: "function", Name: "withdrawHoldings", StateMutability: "nonpayable", Inputs: []Param{}},
}

// BasicNFTABI describes the BasicNFT collection for frontends.
var BasicNFTABI = []Fragment{
	{Type: "function", Name: "approve", StateMutability: "nonpayable", Inputs: []Param{
		{Name: "to", Type: "address"}, {Name: "tokenId", Type: "uint256"},
	}},
	{Type: "function", Name: "getApproved", StateMutability: "view",
		Inputs:  []Param{{Name: "tokenId", Type: "uint256"}},
		Outputs: []Param{{Name: "", Type: "address"}},
	},
	{Type: "function", Name: "getTokenCounter", StateMutability: "view",
		Inputs:  []Param{},
		Outputs: []Param{{Name: "", Type: "uint256"}},
	},
	{Type: "function", Name: "mintNft", StateMutability: "nonpayable",
		Inputs:  []Param{},
		Outputs: []Param{{Name: "", Type: "uint256"}},
	},
	{Type: "function", Name: "ownerOf", StateMutability: "view",
		Inputs:  []Param{{Name: "tokenId", Type: "uint256"}},
		Outputs: []Param{{Name: "", Type: "address"}},
	},
	{Type: "function", Name: "setApprovalForAll", StateMutability: "nonpayable", Inputs: []Param{
		{Name: "operator", Type: "address"}, {Name: "approved", Type: "bool"},
	}},
	{Type: "function", Name: "tokenURI", StateMutability: "view",
		Inputs:  []Param{{Name: "tokenId", Type: "uint256"}},
		Outputs: []Param{{Name: "", Type: "string"}},
	},
	{Type: "function", Name: "transferFrom", StateMutability: "nonpayable", Inputs: []Param{
		{Name: "from", Type: "address"}, {Name: "to", Type: "address"}, {Name: "tokenId", Type: "uint256"},
	}},
}

// ExportFrontend records the marketplace address under chainID in the
// addresses file and writes both interface descriptions into the ABI directory.
// It does nothing unless cfg.Update is set.
func ExportFrontend(d *Deployment, chainID uint64, cfg config.FrontendConfig, logger *zap.Logger) error {
	if !cfg.Update {
		return nil
	}
	logger.Info("updating frontend files with deployed contract addresses and ABIs")

	if err := updateContractAddresses(cfg.AddressesFile, chainID, d.MarketplaceAddress.String()); err != nil {
		return err
	}
	logger.Info("marketplace contract address updated", zap.String("file", cfg.AddressesFile))

	if err := os.MkdirAll(cfg.ABIDir, 0755); err != nil {
		return fmt.Errorf("create abi directory: %w", err)
	}
	if err := writeJSON(filepath.Join(cfg.ABIDir, "BasicNft.json"), BasicNFTABI); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(cfg.ABIDir, "NftMarketplace.json"), MarketplaceABI); err != nil {
		return err
	}
	logger.Info("ABIs written", zap.String("dir", cfg.ABIDir))
	return nil
}

func updateContractAddresses(path string, chainID uint64, address string) error {
	current := map[string][]string{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read addresses file: %w", err)
	default:
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("parse addresses file %s: %w", path, err)
		}
	}

	key := strconv.FormatUint(chainID, 10)
	if !slices.Contains(current[key], address) {
		current[key] = append(current[key], address)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create addresses directory: %w", err)
	}
	return writeJSON(path, current)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
