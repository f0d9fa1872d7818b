package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chorus-consensus/chorus/gcrypto/ged25519"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// genesisValidator is the on-disk JSON shape of one validator entry in
// genesis.json: enough to reconstruct a tmconsensus.Validator without any
// private material.
type genesisValidator struct {
	Address string `json:"address"`
	PubKey  string `json:"pub_key_ed25519"`
	Power   uint64 `json:"power"`
}

// genesisDoc is the on-disk JSON shape of genesis.json.
type genesisDoc struct {
	ChainID    string             `json:"chain_id"`
	Validators []genesisValidator `json:"validators"`
}

func newGenesisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Create and inspect genesis material",
	}
	cmd.AddCommand(newGenesisInitCmd())
	return cmd
}

func newGenesisInitCmd() *cobra.Command {
	var (
		chainID    string
		numVals    int
		outDir     string
		validPower uint64
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a genesis.json and one private validator key file per validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			if numVals < 1 {
				return fmt.Errorf("--validators must be at least 1")
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			doc := genesisDoc{ChainID: chainID}

			for i := 0; i < numVals; i++ {
				seed := make([]byte, 32)
				if _, err := rand.Read(seed); err != nil {
					return fmt.Errorf("generating validator key: %w", err)
				}
				signer := ged25519.NewSigner(seed)
				pub := signer.PubKey()

				doc.Validators = append(doc.Validators, genesisValidator{
					Address: string(pub.Address()),
					PubKey:  hex.EncodeToString(pub.Bytes()),
					Power:   validPower,
				})

				keyPath := filepath.Join(outDir, fmt.Sprintf("priv_validator_%d.json", i))
				keyJSON, err := json.MarshalIndent(struct {
					Seed string `json:"seed_ed25519"`
				}{Seed: hex.EncodeToString(seed)}, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding private validator key: %w", err)
				}
				if err := os.WriteFile(keyPath, keyJSON, 0o600); err != nil {
					return fmt.Errorf("writing private validator key: %w", err)
				}
			}

			b, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding genesis doc: %w", err)
			}
			genPath := filepath.Join(outDir, "genesis.json")
			if err := os.WriteFile(genPath, b, 0o644); err != nil {
				return fmt.Errorf("writing genesis doc: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %d private validator key(s) to %s\n", genPath, numVals, outDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&chainID, "chain-id", "chorus-devnet", "chain identifier embedded in the genesis doc and gossip topic name")
	cmd.Flags().IntVar(&numVals, "validators", 4, "number of validators to generate")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory for genesis.json and private validator key files")
	cmd.Flags().Uint64Var(&validPower, "power", 1, "voting power assigned to every generated validator")

	return cmd
}

// loadGenesis reads and validates a genesis.json produced by genesis init,
// returning the resolved validator set.
func loadGenesis(path string) (genesisDoc, tmconsensus.ValidatorSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return genesisDoc{}, tmconsensus.ValidatorSet{}, fmt.Errorf("reading genesis file: %w", err)
	}

	var doc genesisDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return genesisDoc{}, tmconsensus.ValidatorSet{}, fmt.Errorf("parsing genesis file: %w", err)
	}

	vals := make([]tmconsensus.Validator, len(doc.Validators))
	for i, gv := range doc.Validators {
		keyBytes, err := hex.DecodeString(gv.PubKey)
		if err != nil {
			return genesisDoc{}, tmconsensus.ValidatorSet{}, fmt.Errorf("decoding validator %d pub key: %w", i, err)
		}
		pub := ged25519.PubKey{Key: keyBytes}
		vals[i] = tmconsensus.Validator{
			Address: tmconsensus.Address(gv.Address),
			PubKey:  pub,
			Power:   gv.Power,
		}
	}

	vs, err := tmconsensus.NewValidatorSet(vals)
	if err != nil {
		return genesisDoc{}, tmconsensus.ValidatorSet{}, fmt.Errorf("building validator set: %w", err)
	}
	return doc, vs, nil
}
