package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"factorchain/crypto"
	"factorchain/rpc"
	"factorchain/rpc/api"
)

func newKeygenCmd(a *app) *cobra.Command {
	var light bool
	cmd := &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate a key and store it in an encrypted keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := a.newPassphrase(a.passphraseEnv)
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			var opts []crypto.KeystoreOption
			if light {
				opts = append(opts, crypto.WithLightKDF())
			}
			if err := crypto.SaveToKeystore(args[0], key, pass, opts...); err != nil {
				return fmt.Errorf("save keystore: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), api.AddressResult{Address: api.FormatAddress(key.Address()), Set: true})
		},
	}
	cmd.Flags().BoolVar(&light, "light-kdf", false, "use cheap scrypt parameters (testing only)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secretEnv string
		issuer    string
		subject   string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token with the factoring:write scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := envOr(secretEnv, "")
			if secret == "" {
				return fmt.Errorf("%s must hold the JWT secret", secretEnv)
			}
			token, err := rpc.IssueToken(secret, issuer, subject, rpc.WriteScope, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&secretEnv, "secret-env", "FACTORING_JWT_SECRET", "environment variable holding the JWT secret")
	cmd.Flags().StringVar(&issuer, "issuer", "", "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "factoringctl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newWireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wire <oracle>",
		Short: "Register the factoring engine and the default oracle (authority only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oracle, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			if err := c.Wire(cmd.Context(), oracle); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.AddressResult{Address: api.FormatAddress(oracle), Set: true})
		},
	}
}

func newDepositCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <address> <amount>",
		Short: "Credit settlement funds to an account (authority only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			if err := c.Deposit(cmd.Context(), to, amount); err != nil {
				return err
			}
			balance, err := c.Balance(cmd.Context(), to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.BalanceResult{Address: api.FormatAddress(to), Balance: balance.String()})
		},
	}
}

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <address>",
		Short: "Show the settlement balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			balance, err := a.reader().Balance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.BalanceResult{Address: api.FormatAddress(addr), Balance: balance.String()})
		},
	}
}

func newScoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "score <address>",
		Short: "Show the reputation record of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			score, err := a.reader().Score(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), score)
		},
	}
}
