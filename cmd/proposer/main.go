// Command proposer manages proposer signing keys and signs proposals for
// submission to the stakecourt API.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stakecourt/oracle"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "proposer",
		Short:        "Proposer key and credential tooling",
		SilenceUsage: true,
	}
	root.AddCommand(newKeygenCmd(), newSignCmd())
	return root
}

func newKeygenCmd() *cobra.Command {
	var kid string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 proposer key pair",
		Long: "Prints the private key (keep it secret) and the PROPOSER_KEYS entry " +
			"the API needs to accept credentials signed with it.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(kid) == "" {
				return errors.New("--kid is required")
			}
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private_key=%s\n", base64.StdEncoding.EncodeToString(priv))
			fmt.Fprintf(out, "proposer_keys_entry=%s:%s\n", kid, base64.StdEncoding.EncodeToString(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&kid, "kid", "", "key id the API registers the public key under")
	return cmd
}

func newSignCmd() *cobra.Command {
	var (
		kid          string
		keyFile      string
		disputeID    int64
		proposalFile string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a proposal for one dispute",
		Long: "Reads the proposal from --proposal-file, or stdin when it is '-', and prints " +
			"a credential bound to the dispute id and the proposal's SHA-256.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kid == "" || keyFile == "" || disputeID <= 0 {
				return errors.New("--kid, --key-file and a positive --dispute are required")
			}
			key, err := readPrivateKey(keyFile)
			if err != nil {
				return err
			}
			proposal, err := readProposal(cmd.InOrStdin(), proposalFile)
			if err != nil {
				return err
			}
			cred, err := oracle.NewSigner(kid, key).Sign(disputeID, proposal)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cred)
			return nil
		},
	}
	cmd.Flags().StringVar(&kid, "kid", "", "key id registered with the API")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "file holding the base64 private key")
	cmd.Flags().Int64Var(&disputeID, "dispute", 0, "dispute id the proposal is for")
	cmd.Flags().StringVar(&proposalFile, "proposal-file", "-", "proposal bytes, '-' for stdin")
	return cmd
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "private_key=")
	key, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key has %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(key), nil
}

func readProposal(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read proposal: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proposal: %w", err)
	}
	return b, nil
}
