package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"autosave/internal/config"
	"autosave/internal/event"
	"autosave/internal/ipc"
)

var (
	socketPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "autosave-cli",
	Short: "CLI tool to interact with the AutoSave daemon",
	Long:  `A command-line interface to inspect and configure the running AutoSave daemon via its Unix socket.`,
}

// --- Client Helper Functions ---

// request sends one command and returns the daemon's response.
func request(cmd ipc.Command) (ipc.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("connecting to daemon socket (%s): %w", socketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return ipc.Response{}, fmt.Errorf("sending command: %w", err)
	}
	var resp ipc.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipc.Response{}, fmt.Errorf("receiving response: %w", err)
	}
	return resp, nil
}

// mustRequest exits on transport errors and on failed commands.
func mustRequest(cmd ipc.Command) ipc.Response {
	resp, err := request(cmd)
	if err != nil {
		log.Fatalf("Error: %v\nIs the AutoSave daemon running?", err)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
	return resp
}

// decodeData converts Response.Data (a map after JSON decoding) into out.
func decodeData(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal response data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

func printResponse(resp ipc.Response) {
	fmt.Println("Success:", resp.Message)
	if resp.Data != nil {
		prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
		if err == nil {
			fmt.Println(string(prettyData))
		} else {
			fmt.Println("Data (raw):", resp.Data)
		}
	}
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the AutoSave daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(mustRequest(ipc.Command{Name: ipc.CmdPing}))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon state, the active application and recent log lines",
	Run: func(cmd *cobra.Command, args []string) {
		resp := mustRequest(ipc.Command{Name: ipc.CmdGetStatus})
		var st ipc.StatusData
		if err := decodeData(resp.Data, &st); err != nil {
			log.Fatalf("Error: %v", err)
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			printResponse(resp)
			return
		}

		fmt.Printf("Status:   %s\n", st.Status.Label)
		if st.App != "" {
			fmt.Printf("App:      %s (%s) since %s\n", st.App, st.Process, st.Since)
		}
		fmt.Printf("Provider: %s (%s)\n", st.Provider, st.Sampler)
		lines, _ := cmd.Flags().GetInt("lines")
		for _, e := range lastEntries(st.RecentLog, lines) {
			fmt.Printf("%s  %-8s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Severity, e.Message)
		}
	},
}

// lastEntries returns up to n trailing entries; n <= 0 yields none.
func lastEntries(entries []event.LogEntry, n int) []event.LogEntry {
	n = min(max(n, 0), len(entries))
	return entries[len(entries)-n:]
}

func main() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultSocketPath(), "Path to the AutoSave daemon socket")

	statusCmd.Flags().Bool("json", false, "Print the raw status document")
	statusCmd.Flags().IntP("lines", "n", 10, "Number of recent log lines to show")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newAppsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
