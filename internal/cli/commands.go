package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
	"github.com/roach88/paywatch/internal/store"
)

// withEnv runs fn against an opened one-shot environment.
func withEnv(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx, opts, cmd, false)
	if err != nil {
		return err
	}
	defer e.close(context.WithoutCancel(ctx))
	return fn(ctx, e)
}

// OrderOptions holds flags for order add.
type OrderOptions struct {
	*RootOptions
	Buyer       string
	Amount      string
	Currency    string
	Destination string
}

// NewOrderCommand creates the order command group.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage payable orders",
	}
	cmd.AddCommand(newOrderAddCommand(rootOpts))
	cmd.AddCommand(newOrderShowCommand(rootOpts))
	cmd.AddCommand(newOrderCancelCommand(rootOpts))
	return cmd
}

func newOrderAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrderOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "add <order-id>",
		Short: "Register an order awaiting payment",
		Long: `Register an order awaiting payment.

Example:
  paywatch order add O1 --buyer B1 --amount 100 --currency USDC --dest GDEST...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return addOrder(ctx, e, opts, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&opts.Buyer, "buyer", "", "buyer id (required)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "amount in whole units (required)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "currency code (required)")
	cmd.Flags().StringVar(&opts.Destination, "dest", "", "destination address (required)")
	for _, name := range []string{"buyer", "amount", "currency", "dest"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func addOrder(ctx context.Context, e *env, opts *OrderOptions, orderID string) error {
	c, err := money.ParseCurrency(opts.Currency)
	if err != nil {
		return e.out.Fail("invalid currency", err, nil)
	}
	amount, err := money.Parse(opts.Amount, c)
	if err != nil {
		return e.out.Fail("invalid amount", err, nil)
	}
	terms := payment.OrderTerms{
		OrderID:            orderID,
		BuyerID:            opts.Buyer,
		Amount:             amount,
		Currency:           c,
		DestinationAddress: opts.Destination,
	}
	if err := e.svc.AddOrder(ctx, terms); err != nil {
		if errors.Is(err, store.ErrOrderExists) {
			return e.out.Fail("order already exists", err, map[string]string{"order_id": orderID})
		}
		return e.out.Fail("failed to add order", err, nil)
	}
	o, err := e.svc.GetOrder(ctx, orderID)
	if err != nil {
		return e.out.Fail("failed to read order", err, nil)
	}
	return e.out.Success(newOrderView(o))
}

func newOrderShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				o, err := e.svc.GetOrder(ctx, args[0])
				if err != nil {
					return e.out.Fail("failed to read order", err, nil)
				}
				return e.out.Success(newOrderView(o))
			})
		},
	}
}

func newOrderCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an order awaiting payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				if err := e.store.CancelOrder(ctx, args[0]); err != nil {
					return e.out.Fail("failed to cancel order", err, nil)
				}
				o, err := e.svc.GetOrder(ctx, args[0])
				if err != nil {
					return e.out.Fail("failed to read order", err, nil)
				}
				return e.out.Success(newOrderView(o))
			})
		},
	}
}

// InitiateOptions holds flags for the initiate command.
type InitiateOptions struct {
	*RootOptions
	Currency string
	Timeout  int
}

// NewInitiateCommand creates the initiate command.
func NewInitiateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitiateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "initiate <order-id>",
		Short: "Start a payment for an order",
		Long: `Start a payment for an order, or return its pending payment.

The payment is watched by a running "paywatch serve", which picks it up
on its next recovery or restart.

Examples:
  paywatch initiate O1
  paywatch initiate O1 --timeout 15 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				var timeout *int
				if cmd.Flags().Changed("timeout") {
					timeout = &opts.Timeout
				}
				c := money.Currency("")
				if opts.Currency != "" {
					parsed, err := money.ParseCurrency(opts.Currency)
					if err != nil {
						return e.out.Fail("invalid currency", err, nil)
					}
					c = parsed
				}
				rec, err := e.svc.InitiatePayment(ctx, args[0], c, timeout)
				if err != nil {
					return e.out.Fail("failed to initiate payment", err, map[string]string{"order_id": args[0]})
				}
				return e.out.Success(newPaymentView(rec))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "currency (defaults to the order's)")
	cmd.Flags().IntVar(&opts.Timeout, "timeout", payment.DefaultTimeoutMinutes, "payment window in minutes (defaults to config)")
	return cmd
}

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	ByOrder bool
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show a payment",
		Long: `Show a payment by id, or the latest payment of an order with --order.

Examples:
  paywatch show 0190f3d4-...
  paywatch show --order O1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				var (
					rec *payment.Record
					err error
				)
				if opts.ByOrder {
					rec, err = e.svc.GetPaymentByOrder(ctx, args[0])
				} else {
					rec, err = e.svc.GetPayment(ctx, args[0])
				}
				if err != nil {
					return e.out.Fail("failed to read payment", err, nil)
				}
				return e.out.Success(newPaymentView(rec))
			})
		},
	}
	cmd.Flags().BoolVar(&opts.ByOrder, "order", false, "treat the argument as an order id")
	return cmd
}

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	TransactionID string
	Source        string
	Destination   string
	Amount        string
	Asset         string
	At            string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "verify <payment-id>",
		Short: "Manually verify a payment against a transaction",
		Long: `Offer an operator-observed transfer as proof of payment.

A matching transfer confirms the payment and marks its order paid; a
mismatching one fails it. A payment that is already resolved is shown
unchanged and the command exits 1.

Exit codes:
  0 - The candidate was applied (the payment is now CONFIRMED or FAILED)
  1 - Unknown payment, or the payment was already resolved
  2 - Command error (database, config, etc.)

Example:
  paywatch verify 0190f3d4-... --tx 3389e9f0 --dest GDEST... --amount 100 --asset USDC`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				return verifyPayment(ctx, e, opts, args[0])
			})
		},
	}
	cmd.Flags().StringVar(&opts.TransactionID, "tx", "", "transaction id (required)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source address")
	cmd.Flags().StringVar(&opts.Destination, "dest", "", "destination address (required)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "transferred amount (required)")
	cmd.Flags().StringVar(&opts.Asset, "asset", "", "asset code; empty for the native asset")
	cmd.Flags().StringVar(&opts.At, "at", "", "transaction time, RFC 3339 (defaults to now)")
	for _, name := range []string{"tx", "dest", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func verifyPayment(ctx context.Context, e *env, opts *VerifyOptions, paymentID string) error {
	at := e.clock.Now().UTC()
	if opts.At != "" {
		parsed, err := time.Parse(time.RFC3339, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --at", err)
		}
		at = parsed
	}

	rec, err := e.svc.ManuallyVerify(ctx, paymentID, payment.Candidate{
		TransactionID: opts.TransactionID,
		Source:        opts.Source,
		Destination:   opts.Destination,
		Amount:        opts.Amount,
		AssetCode:     opts.Asset,
		Timestamp:     at,
	})
	if err != nil {
		var details any
		if rec != nil {
			details = newPaymentView(rec)
		}
		return e.out.Fail("verification not applied", err, details)
	}
	return e.out.Success(newPaymentView(rec))
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <buyer-id>",
		Short: "Summarize a buyer's payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				stats, err := e.svc.GetStats(ctx, args[0])
				if err != nil {
					return e.out.Fail("failed to compute stats", err, nil)
				}
				return e.out.Success(StatsView{Stats: stats})
			})
		},
	}
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Time out expired pending payments once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				res, err := e.svc.Sweep(ctx)
				if err != nil {
					return e.out.Fail("sweep failed", err, nil)
				}
				return e.out.Success(newSweepView(res))
			})
		},
	}
}

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	PaymentID string
	Name      string
	After     int64
	Limit     int
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List outbox events",
		Long: `List outbox events in sequence order.

Examples:
  paywatch events
  paywatch events --payment 0190f3d4-... --format json
  paywatch events --name payment.confirmed --after 120 --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(rootOpts, cmd, func(ctx context.Context, e *env) error {
				if opts.Limit < 0 {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid --limit %d", opts.Limit))
				}
				evs, err := e.svc.Events(ctx, store.EventFilter{
					PaymentID: opts.PaymentID,
					Name:      opts.Name,
					AfterSeq:  opts.After,
					Limit:     opts.Limit,
				})
				if err != nil {
					return e.out.Fail("failed to list events", err, nil)
				}
				return e.out.Success(EventList(evs))
			})
		},
	}
	cmd.Flags().StringVar(&opts.PaymentID, "payment", "", "only events of this payment")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only events with this name")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events (0 = all)")
	return cmd
}
