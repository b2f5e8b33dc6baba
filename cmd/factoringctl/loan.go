package main

import (
	"github.com/spf13/cobra"

	"factorchain/rpc/api"
)

func newLoanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loan",
		Short: "Fund, repay and inspect loans",
	}
	cmd.AddCommand(newLoanFundCmd(a))
	cmd.AddCommand(newLoanRepayCmd(a))
	cmd.AddCommand(newLoanDefaultCmd(a))
	cmd.AddCommand(newLoanGetCmd(a))
	cmd.AddCommand(newLoanListCmd(a))
	return cmd
}

func newLoanFundCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <id> <amount>",
		Short: "Fund an invoice; amount must equal its face value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			value, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			loan, err := c.Fund(cmd.Context(), id, value)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
}

func newLoanRepayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repay <id> [amount]",
		Short: "Repay a loan; the amount defaults to the exact repayment due",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := a.signer()
			if err != nil {
				return err
			}
			value, err := c.RepaymentDue(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				if value, err = parseAmount(args[1]); err != nil {
					return err
				}
			}
			loan, err := c.Repay(cmd.Context(), id, value)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
}

func newLoanDefaultCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "default <id>",
		Short: "Mark an overdue loan in default (oracle only)",
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
			loan, err := c.MarkDefault(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
}

func newLoanGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show the loan recorded for an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			loan, err := a.reader().Loan(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loan)
		},
	}
}

func newLoanListCmd(a *app) *cobra.Command {
	var filter api.LoanFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loans, optionally filtered",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := a.reader().Loans(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), loans)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&filter.Status, "status", "", "funded, repaid or defaulted")
	flags.StringVar(&filter.Lender, "lender", "", "lender address")
	flags.StringVar(&filter.Borrower, "borrower", "", "borrower address")
	flags.IntVar(&filter.Offset, "offset", 0, "number of matches to skip")
	flags.IntVar(&filter.Limit, "limit", 100, "page size")
	return cmd
}
