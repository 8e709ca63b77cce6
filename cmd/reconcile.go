// File: cmd/reconcile.go
package cmd

import (
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cartprobe/internal/cart"
	"github.com/xkilldash9x/cartprobe/internal/driver/snapshot"
	"github.com/xkilldash9x/cartprobe/internal/observability"
)

// newReconcileCmd creates the `reconcile` command, which audits a cart without a browser.
func newReconcileCmd(d deps) *cobra.Command {
	var out outputFlags

	reconcileCmd := &cobra.Command{
		Use:   "reconcile <cart.yaml | page.html>",
		Short: "Check a recorded cart: a YAML item list or a saved cart page",
		Long: `Reconciles a cart that was recorded earlier. A .html or .htm file is read with the
configured cart locators exactly as the audit command reads a live page; any other file is
decoded as YAML with a top-level total and a list of items (label, price, quantity).

Exits with status 2 when the total does not match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := out.apply(cfg); err != nil {
				return err
			}

			var src cart.Source
			path := args[0]
			switch strings.ToLower(filepath.Ext(path)) {
			case ".html", ".htm":
				locs, err := cartLocators(cfg.Cart())
				if err != nil {
					return err
				}
				page, err := snapshot.Load(path)
				if err != nil {
					return err
				}
				reader, err := cart.NewReader(newSession(page, cfg, logger), locs, cfg.Wait().DefaultTimeout)
				if err != nil {
					return err
				}
				src = reader
			default:
				snap, err := cart.LoadSnapshot(path)
				if err != nil {
					return err
				}
				src = cart.Fixed(snap)
			}

			_, err = report(ctx, logger, cfg, src, d, !out.noStore, cmd.OutOrStdout())
			return err
		},
	}
	out.register(reconcileCmd)
	return reconcileCmd
}
