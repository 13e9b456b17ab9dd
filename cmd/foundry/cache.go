package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/foundry/internal/types"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "cache",
	Short:   "Inspect and manage the project configuration cache",
}

// cacheKey resolves the key from --org/--project or an "org/project"
// argument.
func cacheKey(cmd *cobra.Command, a *app, args []string) (types.SnapshotKey, error) {
	org, _ := cmd.Flags().GetString("org")
	project, _ := cmd.Flags().GetString("project")
	if len(args) > 0 {
		o, p, ok := strings.Cut(args[0], "/")
		if !ok {
			return types.SnapshotKey{}, fmt.Errorf("expected organization/project, got %q", args[0])
		}
		org, project = o, p
	}
	key := a.projectKey(org, project)
	return key, key.Validate()
}

var cacheShowCmd = &cobra.Command{
	Use:   "show [org/project]",
	Short: "Show the cached configuration snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		key, err := cacheKey(cmd, a, args)
		if err != nil {
			return err
		}
		l, err := a.cache.Lookup(rootCtx, key)
		if err != nil {
			return err
		}
		s := l.Snapshot
		if jsonOutput {
			outputJSON(map[string]interface{}{
				"snapshot": s,
				"stale":    l.Stale,
				"source":   l.Source,
			})
			return nil
		}
		fmt.Printf("%s  version %d  hash %s\n", key, s.Version, s.Hash)
		fmt.Printf("  source:  %s", l.Source)
		if l.Stale {
			fmt.Print(" (stale)")
		}
		fmt.Println()
		fmt.Printf("  fetched: %s, expires %s\n",
			s.FetchedAt.Format("2006-01-02 15:04:05"), s.ExpiresAt().Format("2006-01-02 15:04:05"))
		fmt.Printf("  type:    %s\n", s.WorkItemType)
		fmt.Println("  phases:")
		for _, p := range s.Phases {
			rule := s.Rules[p]
			fmt.Printf("    %-16s state=%-12q column=%-16q next=%s\n", p, rule.State, rule.Column, joinPhases(rule.Next))
		}
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [org/project]",
	Short: "Mark a project's snapshot stale in every tier",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		key, err := cacheKey(cmd, a, args)
		if err != nil {
			return err
		}
		if err := a.cache.Invalidate(rootCtx, key); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"invalidated": key.String()})
			return nil
		}
		fmt.Printf("Invalidated %s\n", key)
		return nil
	},
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh [org/project]",
	Short: "Fetch a project's configuration from the tracker now",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		key, err := cacheKey(cmd, a, args)
		if err != nil {
			return err
		}
		s, err := a.cache.Refresh(rootCtx, key)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(s)
			return nil
		}
		fmt.Printf("Refreshed %s: version %d, hash %s\n", key, s.Version, s.Hash)
		return nil
	},
}

var cacheValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare cached configuration with the tracker and record changes",
	Long: `Compare the cached configuration with the tracker and record any change
in the change log. With --watch the check repeats on
cache.validation_interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			logger.Info("validating configuration until interrupted")
			if err := a.validator.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				return err
			}
			return nil
		}
		changes, err := a.validator.RunOnce(rootCtx)
		if jsonOutput {
			if changes == nil {
				changes = []types.ChangeEntry{}
			}
			outputJSON(changes)
		} else {
			if len(changes) == 0 && err == nil {
				fmt.Println("Configuration unchanged")
			}
			printChanges(changes)
		}
		return err
	},
}

var cacheChangesCmd = &cobra.Command{
	Use:   "changes [org/project]",
	Short: "List recorded configuration changes, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		key, err := cacheKey(cmd, a, args)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		changes, err := a.store.ListChanges(rootCtx, key, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			if changes == nil {
				changes = []types.ChangeEntry{}
			}
			outputJSON(changes)
			return nil
		}
		if len(changes) == 0 {
			fmt.Printf("No configuration changes recorded for %s\n", key)
			return nil
		}
		printChanges(changes)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rates and tier health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		st := a.cache.Stats()
		health := a.cache.TierHealth(rootCtx)
		tiers := make(map[string]string, len(health))
		for name, herr := range health {
			tiers[name] = "ok"
			if herr != nil {
				tiers[name] = herr.Error()
			}
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"stats": st, "tiers": tiers})
			return nil
		}
		fmt.Printf("requests %d, hits %d, misses %d, hit rate %.1f%%\n",
			st.Requests, st.Hits, st.Misses, st.HitRate*100)
		fmt.Printf("stale served %d, fetches %d (%d failed), tier errors %d, invalidations %d\n",
			st.StaleServed, st.Fetches, st.FetchErrors, st.TierErrors, st.Invalidations)
		fmt.Printf("hot entries %d\n", st.HotSize)
		for _, name := range sortedKeys(st.TierHits) {
			fmt.Printf("  hits from %-12s %d\n", name, st.TierHits[name])
		}
		for _, name := range sortedKeys(tiers) {
			fmt.Printf("  tier %-12s %s\n", name, tiers[name])
		}
		return nil
	},
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm <org/project>...",
	Short: "Load several projects' configuration into the cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		keys := make([]types.SnapshotKey, 0, len(args))
		for _, arg := range args {
			key, err := cacheKey(cmd, a, []string{arg})
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		n, err := a.cache.Warm(rootCtx, keys, concurrency)
		if jsonOutput {
			outputJSON(map[string]int{"requested": len(keys), "loaded": n})
		} else {
			fmt.Printf("Loaded %d of %d project(s)\n", n, len(keys))
		}
		return err
	},
}

func printChanges(changes []types.ChangeEntry) {
	for _, c := range changes {
		fmt.Printf("%s  %s/%s  v%d -> v%d  %s -> %s\n",
			c.DetectedAt.Format("2006-01-02 15:04:05"), c.Organization, c.Project,
			c.OldVersion, c.NewVersion, shortHash(c.OldHash), shortHash(c.NewHash))
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	for _, c := range []*cobra.Command{cacheShowCmd, cacheInvalidateCmd, cacheRefreshCmd, cacheChangesCmd} {
		c.Flags().String("org", "", "Organization (default: tracker.organization)")
		c.Flags().String("project", "", "Project (default: tracker.project)")
	}
	cacheValidateCmd.Flags().Bool("watch", false, "Keep validating on the configured interval")
	cacheChangesCmd.Flags().Int("limit", 20, "Maximum entries to list")
	cacheWarmCmd.Flags().Int("concurrency", 0, "Parallel loads (default 8)")

	cacheCmd.AddCommand(cacheShowCmd, cacheInvalidateCmd, cacheRefreshCmd, cacheValidateCmd,
		cacheChangesCmd, cacheStatsCmd, cacheWarmCmd)
	rootCmd.AddCommand(cacheCmd)
}
