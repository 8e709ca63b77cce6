// File: cmd/audit.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartprobe/internal/cart"
	"github.com/xkilldash9x/cartprobe/internal/config"
	"github.com/xkilldash9x/cartprobe/internal/driver"
	"github.com/xkilldash9x/cartprobe/internal/interact"
	"github.com/xkilldash9x/cartprobe/internal/locator"
	"github.com/xkilldash9x/cartprobe/internal/observability"
	"github.com/xkilldash9x/cartprobe/internal/reconcile"
	"github.com/xkilldash9x/cartprobe/internal/reporting"
	"github.com/xkilldash9x/cartprobe/internal/session"
)

// outputFlags are the report overrides shared by audit and reconcile.
type outputFlags struct {
	formats   []string
	reportDir string
	noStore   bool
}

func (f *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.formats, "format", "f", nil, "Report formats to write (xlsx, jsonl). Overrides report.formats.")
	cmd.Flags().StringVar(&f.reportDir, "report-dir", "", "Directory for xlsx reports. Overrides report.dir.")
	cmd.Flags().BoolVar(&f.noStore, "no-store", false, "Do not persist the run to the database even when one is configured.")
}

// apply copies the overrides into cfg and revalidates it.
func (f *outputFlags) apply(cfg config.Interface) error {
	if len(f.formats) > 0 {
		cfg.SetReportFormats(f.formats)
	}
	if f.reportDir != "" {
		cfg.SetReportDir(f.reportDir)
	}
	return cfg.Validate()
}

// newAuditCmd creates the `audit` command.
func newAuditCmd(d deps) *cobra.Command {
	var out outputFlags
	var headed bool

	auditCmd := &cobra.Command{
		Use:   "audit [cart-url]",
		Short: "Open a cart in Chrome and check that its total matches its rows",
		Long: `Launches Chrome, opens the cart page, waits for the cart to render and reads every
row's price and quantity along with the displayed total. The run is reconciled, written to
the configured reports and, when a database is configured, stored.

Exits with status 2 when the displayed total does not match.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.SetCartURL(args[0])
			}
			if headed {
				cfg.SetBrowserHeadless(false)
			}
			if err := out.apply(cfg); err != nil {
				return err
			}
			return runAudit(ctx, observability.GetLogger(), cfg, d, !out.noStore, cmd.OutOrStdout())
		},
	}
	out.register(auditCmd)
	auditCmd.Flags().BoolVar(&headed, "headed", false, "Show the browser window.")
	return auditCmd
}

// runAudit drives one live cart audit end to end.
func runAudit(ctx context.Context, logger *zap.Logger, cfg config.Interface, d deps, useStore bool, out io.Writer) error {
	cartCfg := cfg.Cart()
	if cartCfg.URL == "" {
		return errors.New("no cart URL given: pass one as an argument or set cart.url")
	}
	locs, err := cartLocators(cartCfg)
	if err != nil {
		return err
	}

	browser, closeBrowser, err := d.browsers.Launch(ctx, cfg.Browser(), logger)
	if err != nil {
		return err
	}
	defer closeBrowser()

	if err := browser.Navigate(ctx, cartCfg.URL, cfg.Browser().NavigationTimeout); err != nil {
		return err
	}

	sess := newSession(browser, cfg, logger)
	reader, err := openCart(ctx, sess, cfg, locs)
	if err == nil {
		_, err = report(ctx, logger, cfg, reader, d, useStore, out)
	}

	if cfg.Screenshots().OnFailure && ctx.Err() == nil && err != nil {
		label := "cart_error"
		if errors.Is(err, ErrMismatch) {
			label = "cart_mismatch"
		}
		if path, shotErr := sess.SaveScreenshot(ctx, label); shotErr != nil {
			logger.Warn("Failed to save failure screenshot.", zap.Error(shotErr))
		} else {
			logger.Info("Failure screenshot saved.", zap.String("path", path))
			fmt.Fprintf(out, "  screenshot: %s\n", path)
		}
	}
	return err
}

// openCart clicks cart.open_link when configured and returns a reader for the cart.
func openCart(ctx context.Context, sess *session.Session, cfg config.Interface, locs cart.Locators) (*cart.Reader, error) {
	if link := cfg.Cart().OpenLink; link != "" {
		loc, err := locator.Parse(link)
		if err != nil {
			return nil, fmt.Errorf("cart.open_link: %w", err)
		}
		if err := sess.Interact().ScrollToTop(ctx); err != nil && driver.IsFatal(err) {
			return nil, err
		}
		if err := sess.Interact().Click(ctx, loc, cfg.Wait().DefaultTimeout); err != nil {
			return nil, fmt.Errorf("failed to open cart: %w", err)
		}
	}
	return cart.NewReader(sess, locs, cfg.Wait().LongTimeout)
}

// newSession builds a session from the wait, interact and screenshot sections.
func newSession(drv driver.Driver, cfg config.Interface, logger *zap.Logger) *session.Session {
	return session.New(drv, session.Options{
		PollInterval:   cfg.Wait().PollInterval,
		DefaultTimeout: cfg.Wait().DefaultTimeout,
		Interact: interact.Config{
			DefaultTimeout:   cfg.Wait().DefaultTimeout,
			SecondaryTimeout: cfg.Interact().SecondaryTimeout,
			ObscuredGrace:    cfg.Interact().ObscuredGrace,
		},
		ScreenshotDir: cfg.Screenshots().Dir,
	}, logger)
}

// cartLocators parses the locator strings of the cart section.
func cartLocators(c config.CartConfig) (cart.Locators, error) {
	var locs cart.Locators
	fields := []struct {
		key string
		raw string
		dst *locator.Locator
	}{
		{"item", c.Item, &locs.Item},
		{"name", c.Name, &locs.Name},
		{"price", c.Price, &locs.Price},
		{"quantity", c.Quantity, &locs.Quantity},
		{"total", c.Total, &locs.Total},
		{"empty_marker", c.EmptyMarker, &locs.EmptyMarker},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		loc, err := locator.Parse(f.raw)
		if err != nil {
			return cart.Locators{}, fmt.Errorf("cart.%s: %w", f.key, err)
		}
		*f.dst = loc
	}
	if err := locs.Validate(); err != nil {
		return cart.Locators{}, err
	}
	return locs, nil
}

// report reconciles the snapshot from src, writes it to every configured sink and prints
// a summary. A mismatch is reported as ErrMismatch after everything is written.
func report(ctx context.Context, logger *zap.Logger, cfg config.Interface, src cart.Source, d deps, useStore bool, out io.Writer) (*reporting.Run, error) {
	reporters, err := openReporters(cfg, logger)
	if err != nil {
		return nil, err
	}

	var rs cart.RunStore
	if useStore && cfg.Database().URL != "" {
		s, cleanup, err := d.stores.Create(ctx, cfg)
		if err != nil {
			_ = reporters.Close()
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		rs = s
	}

	run, auditErr := cart.Audit(ctx, src, reporters, rs, cart.AuditOptions{
		Name:      cfg.Report().Name,
		Reconcile: reconcileOptions(cfg.Reconcile()),
	}, logger)
	if closeErr := reporters.Close(); closeErr != nil {
		logger.Error("Failed to close reports.", zap.Error(closeErr))
		auditErr = errors.Join(auditErr, fmt.Errorf("failed to save reports: %w", closeErr))
	}
	if run == nil {
		return nil, auditErr
	}

	printRun(out, run, reporters)
	if !run.Result.Matched {
		return run, errors.Join(fmt.Errorf("%w: computed %.2f, observed %.2f", ErrMismatch, run.Result.ComputedTotal, run.Result.ObservedTotal), auditErr)
	}
	return run, auditErr
}

func reconcileOptions(c config.ReconcileConfig) []reconcile.Option {
	return []reconcile.Option{
		reconcile.WithTolerance(c.Tolerance),
		reconcile.WithPolicy(c.Policy()),
	}
}

// openReporters opens one reporter per configured format.
func openReporters(cfg config.Interface, logger *zap.Logger) (reporting.Multi, error) {
	rc := cfg.Report()
	var reporters reporting.Multi
	for _, format := range rc.Formats {
		rep, err := reporting.New(format, reporting.Options{Name: rc.Name, Dir: rc.Dir, Path: rc.AuditLog}, logger)
		if err != nil {
			_ = reporters.Close()
			return nil, fmt.Errorf("failed to initialize %s reporter: %w", format, err)
		}
		reporters = append(reporters, rep)
	}
	return reporters, nil
}

func printRun(out io.Writer, run *reporting.Run, reporters reporting.Multi) {
	res := run.Result
	verdict := "MATCH"
	if !res.Matched {
		verdict = "MISMATCH"
	}
	fmt.Fprintf(out, "Run %s: %s\n", run.ID, verdict)
	if run.URL != "" {
		fmt.Fprintf(out, "  url:        %s\n", run.URL)
	}
	fmt.Fprintf(out, "  items:      %d\n", len(run.Items))
	fmt.Fprintf(out, "  computed:   %.2f\n", res.ComputedTotal)
	fmt.Fprintf(out, "  observed:   %.2f\n", res.ObservedTotal)
	if !res.Matched {
		fmt.Fprintf(out, "  difference: %+.2f\n", res.Difference())
		if res.AlternateMatched {
			fmt.Fprintf(out, "  note:       the total matches if prices are %s\n", describePolicy(res.Policy))
		}
	}
	for _, r := range reporters {
		if x, ok := r.(*reporting.XLSXReporter); ok && x.Path() != "" {
			fmt.Fprintf(out, "  report:     %s\n", x.Path())
		}
	}
}

// describePolicy names the interpretation opposite to p.
func describePolicy(p reconcile.Policy) string {
	if p == reconcile.PolicyPriceIsLineTotal {
		return "unit prices"
	}
	return "line totals"
}
