package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"pos-ledger/config"
	"pos-ledger/signer"
)

func keygenCommand(configPath *string) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a validator signing seed and print its public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if out == "" {
				out = cfg.Signer.SeedFile
			}
			if out == "" {
				return fmt.Errorf("no seed file: set signer.seed_file or pass --out")
			}

			scheme, err := signer.SchemeByName(cfg.Signer.Scheme)
			if err != nil {
				return err
			}
			seed := make([]byte, scheme.SeedSize())
			if _, err := rand.Read(seed); err != nil {
				return err
			}
			s, err := signer.FromSeed(cfg.Signer.Scheme, seed)
			if err != nil {
				return err
			}
			if err := signer.WriteSeedFile(out, seed); err != nil {
				return fmt.Errorf("write seed file: %w", err)
			}

			fmt.Printf("scheme:      %s\n", scheme.Name())
			fmt.Printf("seed file:   %s\n", out)
			fmt.Printf("fingerprint: %s\n", signer.Fingerprint(s.PublicKey()))
			fmt.Printf("public key:  %s\n", hex.EncodeToString(s.PublicKey()))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "seed file to create (defaults to signer.seed_file)")
	return cmd
}
