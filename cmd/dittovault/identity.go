package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/marmos91/dittovault/pkg/identity"
	"github.com/spf13/cobra"
)

var (
	derivePublicKeyHex string
	deriveOpaque       string
)

func newIdentityCmd() *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Derive and check principals",
		Long: `Derive and check the principals used in identity.service and identity.trusted.

Examples:
  # Principal of an operator public key
  dittovault identity derive --public-key-hex 302a300506032b6570032100...

  # Principal the node derives from a service name
  dittovault identity derive --opaque dittovault

  # Validate a principal
  dittovault identity check rrkah-fqaaa-aaaaa-aaaaq-cai`,
	}

	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive a principal",
		Args:  cobra.NoArgs,
		RunE:  runIdentityDerive,
	}
	deriveCmd.Flags().StringVar(&derivePublicKeyHex, "public-key-hex", "", "hex-encoded public key")
	deriveCmd.Flags().StringVar(&deriveOpaque, "opaque", "", "opaque id (e.g. a service name)")
	deriveCmd.MarkFlagsMutuallyExclusive("public-key-hex", "opaque")
	deriveCmd.MarkFlagsOneRequired("public-key-hex", "opaque")
	identityCmd.AddCommand(deriveCmd)

	checkCmd := &cobra.Command{
		Use:   "check <principal>",
		Short: "Validate a principal",
		Args:  cobra.ExactArgs(1),
		RunE:  runIdentityCheck,
	}
	identityCmd.AddCommand(checkCmd)

	return identityCmd
}

func runIdentityDerive(cmd *cobra.Command, args []string) error {
	var p identity.Principal
	switch {
	case derivePublicKeyHex != "":
		key, err := hex.DecodeString(derivePublicKeyHex)
		if err != nil {
			return fmt.Errorf("decode public key: %w", err)
		}
		p = identity.FromPublicKey(key)
	case deriveOpaque != "":
		p = identity.Opaque([]byte(deriveOpaque))
	default:
		return errors.New("one of --public-key-hex or --opaque is required")
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), p)
	return nil
}

func runIdentityCheck(cmd *cobra.Command, args []string) error {
	p, err := identity.Parse(args[0])
	if err != nil {
		return err
	}

	kind := "principal"
	if p.IsAnonymous() {
		kind = "anonymous"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", p, kind)
	return nil
}
