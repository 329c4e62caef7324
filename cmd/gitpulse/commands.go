package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gitpulse/internal/app"
	"gitpulse/internal/leveling"
	"gitpulse/internal/poller"
)

const stopTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "gitpulse",
		Short: "Posts new GitHub pull requests and issues to Telegram chats.",
		Long: `gitpulse polls tracked GitHub repositories for open pull requests and
issues, posts each new one to its configured chat exactly once, and keeps
activity levels for group members.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newPollCmd(&cfgPath, "poll", "Run one poll and post new items as cards", poller.ModeCards),
		newPollCmd(&cfgPath, "digest", "Run one poll and post new items as digests", poller.ModeDigest),
		newLevelCmd(&cfgPath),
	)
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the poller, scheduler and chat listener until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newPollCmd(cfgPath *string, use, short string, mode poller.Mode) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.RunPoll(ctx, mode)
			out := cmd.OutOrStdout()
			for _, rr := range rep.Repos {
				switch {
				case rr.Skipped != "":
					fmt.Fprintf(out, "%-40s skipped: %s\n", rr.Repo, rr.Skipped)
				case rr.Err != nil:
					fmt.Fprintf(out, "%-40s error: %v\n", rr.Repo, rr.Err)
				default:
					fmt.Fprintf(out, "%-40s new=%d delivered=%d failed=%d deferred=%d closed=%d\n",
						rr.Repo, rr.NewPRs+rr.NewIssues, rr.Delivered, rr.Failed, rr.Deferred, rr.Closed)
				}
			}
			fmt.Fprintf(out, "%s run: %d delivered in %s\n", rep.Mode, rep.Delivered(), rep.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func newLevelCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "level <user_id>",
		Short: "Show a user's points and level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}

			_, cfg, _, err := app.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			logs, log := app.NewLogging(cfg)
			defer logs.Close()

			store, err := app.OpenStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := leveling.New(store, nil, "", log, nil).Points(cmd.Context(), leveling.UserKey(id))
			if err != nil {
				return err
			}
			name := st.Username
			if name == "" {
				name = st.UserID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: level %d, %d points (next level at %d)\n", name, st.Level, st.Points, st.Next)
			return nil
		},
	}
}
