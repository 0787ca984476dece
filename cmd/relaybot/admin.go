package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
	"relaybot/internal/cache"
	"relaybot/internal/config"
	"relaybot/internal/settings"
	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

// withStore opens the database for a one-shot command and closes it after.
func withStore(ctx context.Context, g *globalFlags, fn func(*config.Config, *storage.Store, logx.Logger) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st, log)
}

// withCache runs fn against the shared cache so that cached decisions are
// dropped after a write.
func withCache(cfg *config.Config, log logx.Logger, fn func(*cache.Cache) error) error {
	c, err := app.OpenCache(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withStore(ctx, g, func(_ *config.Config, st *storage.Store, log logx.Logger) error {
				if err := st.Migrate(ctx); err != nil {
					return err
				}
				log.Info("schema up to date", logx.String("driver", st.Driver()))
				return nil
			})
		},
	}
}

func newChatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List active chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withStore(ctx, g, func(_ *config.Config, st *storage.Store, _ logx.Logger) error {
				chats, err := st.Chats.ListActive(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTYPE\tTITLE\tSOURCE\tDEST\tREGISTERED")
				for _, c := range chats {
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\t%s\n",
						c.ID, c.Type, c.Title, c.IsSource, c.IsDestination, c.RegisteredAt.Format("2006-01-02"))
				}
				return w.Flush()
			})
		},
	}
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}

func newGrantCmd(g *globalFlags) *cobra.Command {
	var (
		days   int
		plan   string
		userID int64
	)
	cmd := &cobra.Command{
		Use:   "grant CHAT_ID",
		Short: "Extend a chat's subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			ctx := cmd.Context()
			return withStore(ctx, g, func(cfg *config.Config, st *storage.Store, log logx.Logger) error {
				sub, err := st.Subscriptions.Grant(ctx, chatID, userID, plan, days, "manual")
				if err != nil {
					return err
				}
				if err := withCache(cfg, log, func(c *cache.Cache) error {
					return c.InvalidateEntitlement(ctx, chatID)
				}); err != nil {
					log.Warn("entitlement cache not invalidated", logx.Err(err))
				}
				fmt.Printf("chat %d subscribed until %s\n", chatID, sub.ExpiresAt.Format("2006-01-02 15:04 MST"))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "days to add")
	cmd.Flags().StringVar(&plan, "plan", "manual", "plan label")
	cmd.Flags().Int64Var(&userID, "user", 0, "user id recorded as the payer")
	return cmd
}

func newRevokeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke CHAT_ID",
		Short: "Expire a chat's subscription now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseChatID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withStore(ctx, g, func(cfg *config.Config, st *storage.Store, log logx.Logger) error {
				ok, err := st.Subscriptions.Revoke(ctx, chatID)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("chat %d has no active subscription\n", chatID)
					return nil
				}
				if err := withCache(cfg, log, func(c *cache.Cache) error {
					return c.InvalidateEntitlement(ctx, chatID)
				}); err != nil {
					log.Warn("entitlement cache not invalidated", logx.Err(err))
				}
				fmt.Printf("chat %d revoked\n", chatID)
				return nil
			})
		},
	}
}

// newPauseCmd builds "pause" or "resume". Running relays pick the flag up
// on their next settings refresh.
func newPauseCmd(g *globalFlags, pause bool) *cobra.Command {
	use, short := "resume", "Resume relaying"
	if pause {
		use, short = "pause", "Pause relaying for every chat"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withStore(ctx, g, func(_ *config.Config, st *storage.Store, _ logx.Logger) error {
				if err := settings.New(st.Settings, settings.DefaultRefresh).SetPaused(ctx, pause); err != nil {
					return err
				}
				fmt.Printf("relay %sd\n", use)
				return nil
			})
		},
	}
}
