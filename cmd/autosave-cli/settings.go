package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"autosave/internal/ipc"
)

// settingKeys maps each settable key to its value parser.
var settingKeys = map[string]func(string) (interface{}, error){
	"auto_save_enabled":     func(s string) (interface{}, error) { return cast.ToBoolE(s) },
	"auto_save_interval":    func(s string) (interface{}, error) { return cast.ToIntE(s) },
	"smart_backup_enabled":  func(s string) (interface{}, error) { return cast.ToBoolE(s) },
	"smart_backup_interval": func(s string) (interface{}, error) { return cast.ToIntE(s) },
	"start_with_system":     func(s string) (interface{}, error) { return cast.ToBoolE(s) },
	"monitored_apps":        parseAppList,
}

func parseAppList(s string) (interface{}, error) {
	var apps []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			apps = append(apps, p)
		}
	}
	return cast.ToStringSliceE(apps)
}

// parseSetting turns a key and a command-line value into update_config args.
func parseSetting(key, value string) (map[string]interface{}, error) {
	parse, ok := settingKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	v, err := parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return map[string]interface{}{key: v}, nil
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the watch settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current watch settings",
		Run: func(cmd *cobra.Command, args []string) {
			printResponse(mustRequest(ipc.Command{Name: ipc.CmdGetConfig}))
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting (e.g. 'auto_save_interval 5', 'monitored_apps photoshop.exe,figma.exe')",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseSetting(args[0], args[1])
			if err != nil {
				return err
			}
			printResponse(mustRequest(ipc.Command{Name: ipc.CmdUpdateConfig, Args: patch}))
			return nil
		},
	}

	configCmd.AddCommand(showCmd, setCmd)
	return configCmd
}

func newAppsCmd() *cobra.Command {
	appsCmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage the watch-list",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List watched executables",
		Run: func(cmd *cobra.Command, args []string) {
			resp := mustRequest(ipc.Command{Name: ipc.CmdGetConfig})
			var cfg struct {
				MonitoredApps []string `json:"monitored_apps"`
			}
			if err := decodeData(resp.Data, &cfg); err != nil {
				fmt.Println("Error:", err)
				return
			}
			for _, a := range cfg.MonitoredApps {
				fmt.Println(a)
			}
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <executable>",
		Short: "Watch an executable (a path or a file name)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printResponse(mustRequest(ipc.Command{Name: ipc.CmdAddApp, Args: ipc.AppArgs{Name: args[0]}}))
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Stop watching an executable",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			printResponse(mustRequest(ipc.Command{Name: ipc.CmdRemoveApp, Args: ipc.AppArgs{Name: args[0]}}))
		},
	}

	appsCmd.AddCommand(listCmd, addCmd, removeCmd)
	return appsCmd
}
