package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"factorchain/cmd/internal/passphrase"
	"factorchain/crypto"
	"factorchain/rpc/client"
)

const defaultRPC = "http://127.0.0.1:8545"

// app carries the global flags shared by every subcommand.
type app struct {
	rpcURL        string
	keystore      string
	passphraseEnv string
	token         string

	// newPassphrase is replaced in tests.
	newPassphrase func(env string) (string, error)
}

func newApp() *app {
	return &app{
		newPassphrase: func(env string) (string, error) {
			return passphrase.NewSource(env, "signer keystore").Get()
		},
	}
}

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "factoringctl",
		Short:         "Operate an invoice factoring node over JSON-RPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.rpcURL, "rpc", envOr("FACTORING_RPC_URL", defaultRPC), "JSON-RPC endpoint")
	flags.StringVar(&a.keystore, "keystore", os.Getenv("FACTORING_KEYSTORE"), "signer keystore for mutating calls")
	flags.StringVar(&a.passphraseEnv, "passphrase-env", "FACTORING_PASSPHRASE", "environment variable holding the keystore passphrase")
	flags.StringVar(&a.token, "token", os.Getenv("FACTORING_TOKEN"), "bearer token for mutating calls")

	cmd.AddCommand(newKeygenCmd(a))
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newWireCmd(a))
	cmd.AddCommand(newDepositCmd(a))
	cmd.AddCommand(newBalanceCmd(a))
	cmd.AddCommand(newScoreCmd(a))
	cmd.AddCommand(newInvoiceCmd(a))
	cmd.AddCommand(newLoanCmd(a))
	cmd.AddCommand(newExportCmd(a))
	return cmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// reader returns a client for read-only calls.
func (a *app) reader() *client.Client {
	var opts []client.Option
	if a.token != "" {
		opts = append(opts, client.WithBearerToken(a.token))
	}
	return client.New(a.rpcURL, opts...)
}

// signer returns a client that signs envelopes with the keystore key.
func (a *app) signer() (*client.Client, error) {
	if strings.TrimSpace(a.keystore) == "" {
		return nil, fmt.Errorf("--keystore is required for this command")
	}
	pass, err := a.newPassphrase(a.passphraseEnv)
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(a.keystore, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	opts := []client.Option{client.WithSigner(key)}
	if a.token != "" {
		opts = append(opts, client.WithBearerToken(a.token))
	}
	return client.New(a.rpcURL, opts...), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: expected a non-negative integer in base units", raw)
	}
	return amount, nil
}

func parseAddress(raw string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return addr, nil
}
