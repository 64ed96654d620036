package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayo6706/payment-orchestrator/internal/app"
	"github.com/ayo6706/payment-orchestrator/internal/db"
	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/ayo6706/payment-orchestrator/internal/models"
	"github.com/ayo6706/payment-orchestrator/internal/registry"
	"github.com/ayo6706/payment-orchestrator/internal/repository"
	"github.com/ayo6706/payment-orchestrator/internal/routing"
	"github.com/ayo6706/payment-orchestrator/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "payctl: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	databaseURL string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "payctl",
		Short:         "Operator tooling for the payment orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := app.NewLogger(opts.logLevel)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newMigrateCmd(opts),
		newCatalogCmd(),
		newSweepCmd(opts),
		newReconcileCmd(opts),
	)
	return root
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect gateway catalogs",
	}
	cmd.AddCommand(newCatalogValidateCmd(), newCatalogRouteCmd())
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a catalog file, or the built-in catalog when no path is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := app.LoadCatalog(path)
			if err != nil {
				return err
			}
			for _, line := range cat.Summary() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

type routeOptions struct {
	catalogPath string
	req         models.PaymentRequest
	amount      string
}

// newCatalogRouteCmd dry-runs the routing engine against a catalog.
func newCatalogRouteCmd() *cobra.Command {
	opts := &routeOptions{}
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show which gateway and MID a payment would be routed to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := decimal.NewFromString(opts.amount)
			if err != nil {
				return fmt.Errorf("amount %q: %w", opts.amount, err)
			}
			cat, err := app.LoadCatalog(opts.catalogPath)
			if err != nil {
				return err
			}
			clock := clockz.RealClock
			gateways := registry.NewGatewayRegistry(cat.Gateways, clock)
			engine := routing.NewEngine(cat.Rules, gateways, registry.NewMIDRegistry(cat.MIDs, clock))

			req := opts.req
			req.Amount = domain.FromDecimal(amount)
			decision, err := engine.Route(req)
			if err != nil {
				return err
			}
			fee := domain.Fee(req.Amount, decision.Gateway.Fees.Percentage, decision.Gateway.Fees.Fixed)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rule:     %s\n", decision.RuleID)
			fmt.Fprintf(out, "gateway:  %s (fallback=%t)\n", decision.Gateway.ID, decision.Fallback)
			if decision.MID != nil {
				fmt.Fprintf(out, "mid:      %s\n", decision.MID.ID)
			}
			fmt.Fprintf(out, "fee:      %s\n", domain.NewMoney(fee, req.Currency))
			fmt.Fprintf(out, "net:      %s\n", domain.NewMoney(domain.Net(req.Amount, fee), req.Currency))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.catalogPath, "catalog", "", "catalog file (default: built-in)")
	f.StringVar(&opts.amount, "amount", "", "amount in major units, e.g. 49.99")
	f.StringVar(&opts.req.Currency, "currency", "USD", "ISO currency code")
	f.StringVar(&opts.req.Region, "region", "", "payer region")
	f.StringVar(&opts.req.PaymentMethod, "method", "card", "payment method")
	f.StringVar(&opts.req.PlatformID, "platform", "", "platform id")
	f.StringVar(&opts.req.RiskLevel, "risk", "", "risk level")
	f.BoolVar(&opts.req.AdultContent, "adult", false, "adult content")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var batch int32
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release every escrow hold whose release date has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer pool.Close()
			if batch <= 0 {
				return fmt.Errorf("--batch must be positive")
			}

			escrow := service.NewEscrowService(repository.NewPostgresStore(pool), nil, service.NewAccountLocks(), clockz.RealClock, service.EscrowConfig{})
			total := 0
			for {
				n, err := escrow.ReleaseDue(cmd.Context(), batch)
				total += n
				if err != nil {
					return fmt.Errorf("released %d before failing: %w", total, err)
				}
				if n < int(batch) {
					break
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d holds\n", total)
			return nil
		},
	}
	cmd.Flags().Int32Var(&batch, "batch", 100, "holds released per pass")
	return cmd
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare escrow account balances against their open holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			imbalances, err := service.NewReconciliationService(repository.NewPostgresStore(pool)).Run(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, im := range imbalances {
				fmt.Fprintf(out, "%s held=%d open=%d (%d holds) pending=%d balance=%d available=%d\n",
					im.AccountID, im.HeldBalance, im.OpenAmount, im.OpenCount, im.PendingReleases, im.Balance, im.Available)
			}
			if len(imbalances) > 0 {
				return fmt.Errorf("%d escrow accounts out of balance", len(imbalances))
			}
			fmt.Fprintln(out, "escrow ledger balanced")
			return nil
		},
	}
}

func connect(ctx context.Context, opts *rootOptions) (*pgxpool.Pool, error) {
	if opts.databaseURL == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.Connect(ctx, opts.databaseURL)
}
