// naeural-cli holds the offline key-management commands of the SDK.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NaeuralEdgeProtocol/go-client/bc"
)

func main() {
	root := &cobra.Command{
		Use:           "naeural-cli",
		Short:         "Key management for the Naeural edge network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(generateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// keyFile is the JSON layout written next to the printed key material.
type keyFile struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	Address    string `json:"address"`
	PEM        string `json:"pem"`
}

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate [filename]",
		Short: "Generate a fresh identity and print its key material",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bc.NewIdentity()
			if err != nil {
				return err
			}
			privHex, err := id.PrivateKeyDERHex()
			if err != nil {
				return err
			}
			pemText, err := id.PrivateKeyPEM()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address:     %s\n", id.Address())
			fmt.Fprintf(out, "public key:  %s\n", id.PublicKeyHex())
			fmt.Fprintf(out, "private key: %s\n", privHex)
			fmt.Fprintf(out, "%s", pemText)

			if len(args) == 1 {
				blob, err := json.MarshalIndent(keyFile{
					PublicKey:  id.PublicKeyHex(),
					PrivateKey: privHex,
					Address:    id.Address(),
					PEM:        pemText,
				}, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(args[0], blob, 0o600); err != nil {
					return fmt.Errorf("write key file: %w", err)
				}
				fmt.Fprintf(out, "key material written to %s\n", args[0])
			}
			return nil
		},
	}
}
