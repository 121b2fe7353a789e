package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/logtap/internal/buildinfo"
	"github.com/modoterra/logtap/pkg/config"
	"github.com/modoterra/logtap/pkg/core"
	"github.com/modoterra/logtap/pkg/daemon/service"
	"github.com/modoterra/logtap/pkg/transport/uds"
	tuimodel "github.com/modoterra/logtap/pkg/tui/model"
)

var socketPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logtap",
	Short: "Multiplexed log viewer for development workloads",
	Long:  "Logtap is a TUI + daemon that streams interleaved stdout/stderr logs from containers, systemd units, exec processes, and log files.",
	RunE:  runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/logtapd.sock", "daemon socket path")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(followCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(serviceCmd)
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	ensureDaemon()
	app := tuimodel.New(socketPath)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func ensureDaemon() {
	if _, err := os.Stat(socketPath); err == nil {
		return
	}
	cmd := exec.Command("logtapd")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Start()
	for i := 0; i < 30; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: could not start daemon, continuing anyway")
}

func dialDaemon() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socketPath, err)
	}
	return client, nil
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(_ *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodPing, nil)
		if err != nil {
			return err
		}

		var pong uds.PingResponse
		if err := json.Unmarshal(resp.Data, &pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Println("pong ✓")
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("logtap %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)

		client, err := dialDaemon()
		if err != nil {
			return
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Request(ctx, uds.MethodVersion, nil)
		if err != nil {
			return
		}
		var ver uds.VersionResponse
		if err := resp.UnmarshalData(&ver); err == nil {
			fmt.Printf("daemon %s", ver.Version)
			if ver.PlatformVersion != "" {
				fmt.Printf(" (container API %s)", ver.PlatformVersion)
			}
			fmt.Println()
		}
	},
}

// --- Daemon ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start daemon in foreground (for debugging)",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
	RunE: func(_ *cobra.Command, _ []string) error {
		// Just exec logtapd directly
		args := []string{}
		if configFlag != "" {
			args = append(args, "--config", configFlag)
		}
		cmd := exec.Command("logtapd", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

var configFlag string

func init() {
	daemonCmd.Flags().StringVar(&configFlag, "config", "", "path to logtap.yaml")
}

// --- Status ---

var (
	statusJSON bool
	statusKind string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status of all watched resources",
	RunE: func(_ *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		resources, err := listResources(client)
		if err != nil {
			return err
		}

		if statusKind != "" {
			var filtered []core.Resource
			for _, res := range resources {
				if string(res.Kind) == statusKind {
					filtered = append(filtered, res)
				}
			}
			resources = filtered
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resources)
		}

		if len(resources) == 0 {
			fmt.Println("no resources")
			return nil
		}

		fmt.Printf("%-20s %-10s %-12s %s\n", "NAME", "KIND", "STATUS", "ID")
		for _, res := range resources {
			fmt.Printf("%-20s %-10s %-12s %s\n", res.Name, res.Kind, res.Status, res.ID)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().StringVar(&statusKind, "kind", "", "filter by resource kind")
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage logtap.yaml configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a logtap.yaml configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		path := "logtap.yaml"
		if len(args) > 0 {
			path = args[0]
		}

		c, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(c)
		if len(errs) == 0 {
			fmt.Printf("%s: valid (%d resources)\n", path, len(c.Resources))
			return nil
		}

		fmt.Fprintf(os.Stderr, "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  • %s\n", e)
		}
		os.Exit(1)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

// --- Follow ---

var followCmd = &cobra.Command{
	Use:   "follow <name>",
	Short: "Stream a resource's logs to stdout",
	Long:  "Interleaves the resource's stdout and stderr streams, each line prefixed with its per-stream line number. Stderr lines are marked with '!'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		resourceID, err := findResourceIDByName(client, args[0])
		if err != nil {
			return err
		}

		done := make(chan error, 1)
		client.OnEvent(func(msg uds.Message) {
			switch msg.Method {
			case uds.EventLogsBatch:
				var batch uds.LogsBatchEvent
				if err := msg.UnmarshalData(&batch); err != nil || batch.ResourceID != resourceID {
					return
				}
				for _, e := range batch.Entries {
					mark := " "
					if e.IsError {
						mark = "!"
					}
					fmt.Printf("%6d %s %s\n", e.LineNumber, mark, e.Content)
				}
			case uds.EventLogsEnd:
				var end uds.LogsEndEvent
				if err := msg.UnmarshalData(&end); err != nil || end.ResourceID != resourceID {
					return
				}
				if end.Error != "" {
					done <- fmt.Errorf("stream failed: %s", end.Error)
				} else {
					done <- nil
				}
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = client.Request(ctx, uds.MethodLogsSubscribe, uds.LogsSubscribeRequest{
			ResourceID: resourceID,
		})
		cancel()
		if err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-done:
			return err
		case <-sigCh:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			client.Request(ctx, uds.MethodLogsUnsubscribe, uds.LogsUnsubscribeRequest{
				ResourceID: resourceID,
			})
			return nil
		}
	},
}

// --- Restart / Stop / Start ---

var restartCmd = &cobra.Command{
	Use:   "restart <name>",
	Short: "Restart a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return doResourceAction(args[0], "restart")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return doResourceAction(args[0], "stop")
	},
}

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return doResourceAction(args[0], "start")
	},
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the logtapd systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the logtapd user service",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := service.Install(); err != nil {
			return err
		}
		fmt.Println("logtapd service installed and started")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the logtapd user service",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Println("logtapd service removed")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon service status",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(service.Status(socketPath))
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

// --- Action helpers ---

func doResourceAction(name, action string) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	resourceID, err := findResourceIDByName(client, name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = client.Request(ctx, uds.MethodAction, uds.ActionRequest{
		ResourceID: resourceID,
		Action:     action,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s → %s ✓\n", action, name)
	return nil
}

func listResources(client *uds.Client) ([]core.Resource, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, uds.MethodListResources, nil)
	if err != nil {
		return nil, err
	}

	var resources []core.Resource
	if err := resp.UnmarshalData(&resources); err != nil {
		return nil, err
	}
	return resources, nil
}

func findResourceIDByName(client *uds.Client, name string) (string, error) {
	resources, err := listResources(client)
	if err != nil {
		return "", err
	}

	for _, res := range resources {
		if res.Name == name || res.ID == name {
			return res.ID, nil
		}
	}
	return "", fmt.Errorf("resource not found: %s", name)
}
