package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/foundry/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Read and write foundry configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a key in the project's .foundry/config.yaml",
	Long: "Set a key in the project's .foundry/config.yaml.\n\nSettable keys:\n  " +
		strings.Join(config.SettableKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.SetYamlConfig(args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "value": args[1], "path": path})
			return nil
		}
		fmt.Printf("Set %s = %s in %s\n", args[0], args[1], path)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := config.GetString(args[0])
		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "value": v})
			return nil
		}
		fmt.Println(v)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.AllSettings()
		if jsonOutput {
			outputJSON(map[string]interface{}{
				"config_file": config.ConfigFileUsed(),
				"settings":    settings,
			})
			return nil
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Printf("# %s\n", f)
		} else {
			fmt.Println("# no config file; defaults and environment only")
		}
		printSettings("", settings)
		return nil
	},
}

// printSettings prints nested settings as dotted keys, redacting secrets.
func printSettings(prefix string, m map[string]interface{}) {
	for _, k := range sortedKeys(m) {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := m[k].(map[string]interface{}); ok {
			printSettings(key, sub)
			continue
		}
		v := fmt.Sprint(m[k])
		if isSecretKey(k) && v != "" {
			v = "********"
		}
		fmt.Printf("%s = %s\n", key, v)
	}
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	return k == "pat" || strings.HasSuffix(k, "_pat") || strings.Contains(k, "token") || strings.Contains(k, "password")
}

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: "setup",
	Short:   "Check the tracker connection and every cache tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		h := a.orch.Health(rootCtx)
		if jsonOutput {
			outputJSON(h)
		} else {
			fmt.Printf("tracker  %s\n", h.Tracker)
			for _, name := range sortedKeys(h.Tiers) {
				fmt.Printf("  %-12s %s\n", name, h.Tiers[name])
			}
			if h.Cache != nil {
				fmt.Printf("cache hit rate %.1f%% over %d request(s)\n", h.Cache.HitRate*100, h.Cache.Requests)
			}
		}
		if !h.Healthy {
			exit(1)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd, healthCmd)
}
