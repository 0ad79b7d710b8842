package main

import (
	"fmt"

	"LendingLedger/internal/address"

	"github.com/spf13/cobra"
)

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "identity and dictionary key helpers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "normalize [identity]",
			Short: "print the canonical 64-hex form of a prefixed or bare hash",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := address.NormalizeIdentity(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "account-hash [public-key-or-account-hash]",
			Short: "derive the account hash of a tagged public key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := address.NormalizeAccount(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), address.KeyString(address.TagAccount, id))
				return nil
			},
		},
		&cobra.Command{
			Use:   "balance-key [owner]",
			Short: "print the CEP-18 balances dictionary item key of owner",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := address.NormalizeAccount(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), address.BalanceDictionaryKey(owner))
				return nil
			},
		},
		&cobra.Command{
			Use:   "allowance-key [owner] [spender-contract]",
			Short: "print the CEP-18 allowances dictionary item key of an owner/spender pair",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				owner, err := address.NormalizeAccount(args[0])
				if err != nil {
					return err
				}
				spender, err := address.NormalizeIdentity(args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), address.AllowanceDictionaryKey(owner, spender))
				return nil
			},
		},
	)
	return cmd
}
