package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/hashing"
	"github.com/hyperjump/ruiji/internal/indexer"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/notes"
)

type rebuildFlags struct {
	server string
	force  bool
	cancel bool
	wait   bool
}

func newRebuildCmd(g *globalFlags) *cobra.Command {
	f := &rebuildFlags{}
	cmd := &cobra.Command{
		Use:   "rebuild [note...]",
		Short: "Rebuild the index for the whole vault or for the given notes",
		Long: `Rebuild embeds every changed note of the vault, or only the given notes.
Notes may be named by ID (note:...) or by path.

Without --server the rebuild runs in this process and needs exclusive access
to the store. With --server it is scheduled on the running server; --force
cancels a rebuild that is already running there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.server != "" {
				return rebuildViaServer(cmd, g, f, args)
			}
			return rebuildDirect(cmd, g, args)
		},
	}
	cmd.Flags().StringVar(&f.server, "server", "", "server URL (empty = rebuild in this process)")
	cmd.Flags().BoolVar(&f.force, "force", false, "cancel a running rebuild on the server")
	cmd.Flags().BoolVar(&f.cancel, "cancel", false, "cancel the running rebuild on the server and exit")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "poll the server until the rebuild finishes")
	return cmd
}

// resolveDocID accepts a note ID or a path (absolute, cwd-relative or vault-relative).
func resolveDocID(vault *notes.Vault, arg string) (string, error) {
	if hashing.IsPathID(arg) {
		return arg, nil
	}
	path := arg
	if abs, err := filepath.Abs(arg); err == nil {
		if _, statErr := os.Stat(abs); statErr == nil {
			path = abs
		}
	}
	id, ok := vault.IDForPath(path)
	if !ok {
		return "", fmt.Errorf("%s is outside the vault %s", arg, vault.Root())
	}
	return id, nil
}

func resolveDocIDs(vault *notes.Vault, args []string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, a := range args {
		id, err := resolveDocID(vault, a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func rebuildDirect(cmd *cobra.Command, g *globalFlags, args []string) error {
	cfg, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	scope := indexer.FullScope()
	if len(args) > 0 {
		ids, err := resolveDocIDs(components.Vault, args)
		if err != nil {
			return err
		}
		scope = indexer.TargetedScope(ids...)
	}

	ctx, stop := signalContext()
	defer stop()

	if err := indexer.Reload(ctx, components.Store, components.Index); err != nil {
		return err
	}
	change, err := components.Store.CompareIdentity(ctx, components.Identity)
	if err != nil {
		return err
	}
	if change != models.IdentityUnchanged {
		if !scope.Full {
			return fmt.Errorf("model identity changed (%s); run a full rebuild first", change)
		}
		logger.Info("adopting model identity",
			zap.String("identity", components.Identity.String()),
			zap.String("change", change.String()))
		if err := components.Store.UseIdentity(ctx, components.Identity); err != nil {
			return err
		}
	}

	// The builder polls the token between documents; a signal trips it so
	// the current note finishes and the summary is still printed.
	token := indexer.NewCancelToken()
	go func() {
		<-ctx.Done()
		token.Cancel()
	}()

	progress := newRebuildProgress(progressEnabled())
	summary, err := components.Builder.Run(context.Background(), scope, token, progress.Func())
	progress.Finish()
	if summary != nil {
		cli.WriteSummary(cmd.OutOrStdout(), summary)
	}
	if errors.Is(err, indexer.ErrCancelled) {
		return fmt.Errorf("rebuild cancelled")
	}
	return err
}

func rebuildViaServer(cmd *cobra.Command, g *globalFlags, f *rebuildFlags, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	client := newAPIClient(f.server)
	out := cmd.OutOrStdout()

	if f.cancel {
		if err := client.cancelRebuild(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Cancellation requested")
		return nil
	}

	var ids []string
	if len(args) > 0 {
		cfg, _, err := loadConfig(g.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		vault, err := notes.NewVault(cfg.Vault.Root, notes.WithExtensions(cfg.Vault.Extensions))
		if err != nil {
			return err
		}
		if ids, err = resolveDocIDs(vault, args); err != nil {
			return err
		}
	}

	res, err := client.rebuild(ctx, ids, f.force)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Rebuild %s started (%s, generation %d)\n", res.TaskID, res.Scope, res.Generation)
	if !f.wait {
		return nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		st, err := client.status(ctx)
		if err != nil {
			return err
		}
		if st.Rebuild.State == indexer.StateRunning && st.Rebuild.TaskID == res.TaskID {
			continue
		}
		if st.Rebuild.LastSummary != nil {
			cli.WriteSummary(out, st.Rebuild.LastSummary)
		}
		if st.Rebuild.LastState != indexer.StateCompleted {
			return fmt.Errorf("rebuild %s: %s", st.Rebuild.LastState, st.Rebuild.LastError)
		}
		return nil
	}
}
