package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"factorchain/rpc/api"
)

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid invoice id %q", raw)
	}
	return id, nil
}

func newInvoiceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Mint, inspect and transfer invoices",
	}
	cmd.AddCommand(newInvoiceMintCmd(a))
	cmd.AddCommand(newInvoiceGetCmd(a))
	cmd.AddCommand(newInvoiceListCmd(a))
	cmd.AddCommand(newInvoiceApproveCmd(a))
	cmd.AddCommand(newInvoiceTransferCmd(a))
	cmd.AddCommand(newInvoiceMarkPaidCmd(a))
	return cmd
}

func newInvoiceMintCmd(a *app) *cobra.Command {
	var (
		metadata string
		amount   string
		debtor   string
		dueIn    time.Duration
		dueAt    int64
		rateBps  uint32
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an invoice owned by the signer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			debtorAddr, err := parseAddress(debtor)
			if err != nil {
				return err
			}
			due := dueAt
			if due == 0 {
				due = time.Now().Add(dueIn).Unix()
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			id, err := c.Mint(cmd.Context(), api.MintArgs{
				MetadataURI:     metadata,
				Amount:          value.String(),
				Debtor:          api.FormatAddress(debtorAddr),
				DueDate:         due,
				InterestRateBps: rateBps,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.MintResult{InvoiceID: id})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&metadata, "metadata", "", "metadata URI")
	flags.StringVar(&amount, "amount", "", "face value in base units")
	flags.StringVar(&debtor, "debtor", "", "debtor address")
	flags.DurationVar(&dueIn, "due-in", 30*24*time.Hour, "due date relative to now")
	flags.Int64Var(&dueAt, "due-at", 0, "absolute due date (unix seconds); overrides --due-in")
	flags.Uint32Var(&rateBps, "rate-bps", 0, "interest rate in basis points")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("debtor")
	return cmd
}

func newInvoiceGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			inv, err := a.reader().Invoice(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inv)
		},
	}
}

func newInvoiceListCmd(a *app) *cobra.Command {
	var (
		offset uint64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Page through invoices by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			invoices, err := a.reader().Invoices(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), invoices)
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "first invoice id")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	return cmd
}

func newInvoiceApproveCmd(a *app) *cobra.Command {
	var spender string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a spender, by default the factoring escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			target, err := c.EscrowAddress(cmd.Context())
			if err != nil {
				return err
			}
			if spender != "" {
				if target, err = parseAddress(spender); err != nil {
					return err
				}
			}
			if err := c.Approve(cmd.Context(), id, target); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.AddressResult{Address: api.FormatAddress(target), Set: true})
		},
	}
	cmd.Flags().StringVar(&spender, "spender", "", "spender address (defaults to the escrow)")
	return cmd
}

func newInvoiceTransferCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <id> <to>",
		Short: "Transfer an invoice to a new owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			to, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			if err := c.Transfer(cmd.Context(), id, to); err != nil {
				return err
			}
			inv, err := c.Invoice(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inv)
		},
	}
}

func newInvoiceMarkPaidCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-paid <id>",
		Short: "Flag an invoice as paid (issuer only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			if err := c.MarkPaid(cmd.Context(), id); err != nil {
				return err
			}
			inv, err := c.Invoice(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), inv)
		},
	}
}
