package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"autosave/internal/ipc"
)

func (a *App) setupSocket() error {
	// Check if socket file exists and try connecting
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			// Another instance is likely running
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(a.socketPath), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	// Keystroke control stays with the owning user.
	if err := os.Chmod(a.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set permissions on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer log.Println("Socket command listener stopped.")

	if a.listener == nil {
		log.Println("Error: Socket listener not initialized.")
		return
	}

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				log.Println("Listener closing due to context cancellation.")
				return
			default:
				log.Printf("Failed to accept connection: %v", err)
				if errors.Is(err, net.ErrClosed) {
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Go(func() { a.handleConnection(conn) })
	}
}

// handleConnection reads one command and writes one response.
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)

	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdGetStatus:
		status, err := a.Status(a.ctx)
		if err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		return ipc.Response{Success: true, Data: status}

	case ipc.CmdGetConfig:
		cfg, err := a.Config(a.ctx)
		if err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		return ipc.Response{Success: true, Data: cfg}

	case ipc.CmdUpdateConfig:
		var args ipc.UpdateConfigArgs
		if err := ipc.DecodeArgs(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.IsEmpty() {
			return ipc.Response{Success: false, Message: "No settings given"}
		}
		if err := a.UpdateConfig(a.ctx, args); err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		return ipc.Response{Success: true, Message: "Settings updated."}

	case ipc.CmdAddApp, ipc.CmdRemoveApp:
		var args ipc.AppArgs
		if err := ipc.DecodeArgs(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if args.Name == "" {
			return ipc.Response{Success: false, Message: "App name cannot be empty"}
		}
		if cmd.Name == ipc.CmdAddApp {
			if err := a.AddMonitoredApp(a.ctx, args.Name); err != nil {
				return ipc.Response{Success: false, Message: err.Error()}
			}
			return ipc.Response{Success: true, Message: fmt.Sprintf("Watching %s", args.Name)}
		}
		if err := a.RemoveMonitoredApp(a.ctx, args.Name); err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("No longer watching %s", args.Name)}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}
