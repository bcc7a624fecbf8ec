package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/pinsave/internal/server"
)

// stateFs backs the offline admin commands.
var stateFs = afero.NewOsFs()

// offlineNote is appended to every command that opens the state dir.
const offlineNote = "Works on the state dir directly and refuses to run while " +
	"`pinsave serve` holds it; use the /v1/admin API against a running server."

// withState opens the persisted state, runs fn, and closes it again.
func withState(cmd *cobra.Command, fn func(*server.State) error) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	st, err := server.OpenState(cfg, stateFs, nil)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	if err := fn(st); err != nil {
		_ = st.Close()
		return err
	}
	return st.Close()
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the persisted request counters",
		Long:  offlineNote,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withState(cmd, func(st *server.State) error {
				snap := st.Stats.Snapshot()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "total requests:    %d\n", snap.TotalRequests)
				fmt.Fprintf(out, "served from cache: %d\n", snap.ServedFromCache)
				fmt.Fprintf(out, "downloads ok:      %d\n", snap.DownloadsOK)
				fmt.Fprintf(out, "blocked (size):    %d\n", snap.BlockedBig)
				fmt.Fprintf(out, "errors:            %d\n", snap.Errors)
				fmt.Fprintf(out, "success rate:      %.1f%%\n", snap.SuccessRate())
				fmt.Fprintf(out, "cached links:      %d\n", st.Cache.Len())
				fmt.Fprintf(out, "banned requesters: %d\n", st.Bans.Len())
				return nil
			})
		},
	}
}

func newBanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <requester-id>",
		Short: "Ignore all messages from a requester",
		Long:  offlineNote,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequesterID(args[0])
			if err != nil {
				return err
			}
			return withState(cmd, func(st *server.State) error {
				if err := st.Bans.Add(id); err != nil {
					return fmt.Errorf("ban %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "banned %d\n", id)
				return nil
			})
		},
	}
}

func newUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <requester-id>",
		Short: "Lift a ban",
		Long:  offlineNote,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRequesterID(args[0])
			if err != nil {
				return err
			}
			return withState(cmd, func(st *server.State) error {
				if err := st.Bans.Remove(id); err != nil {
					return fmt.Errorf("unban %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unbanned %d\n", id)
				return nil
			})
		},
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or edit the artifact cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge <link>",
		Short: "Forget the stored copy of a link so the next request refetches it",
		Long:  offlineNote,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withState(cmd, func(st *server.State) error {
				if err := st.PurgeCache(args[0]); err != nil {
					return fmt.Errorf("purge: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func parseRequesterID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid requester id %q", raw)
	}
	return id, nil
}
