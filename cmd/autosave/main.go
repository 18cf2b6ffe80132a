package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sevlyar/go-daemon"
	flag "github.com/spf13/pflag"

	"autosave/internal/app"
	"autosave/internal/config"
)

var (
	configPath = flag.StringP("config", "c", "", "Path to configuration file (e.g., config.yaml). Defaults to ./config.yaml, ~/.config/autosave/config.yaml, /etc/autosave/config.yaml")
	logPath    = flag.String("log", "", "Path to log file (optional, defaults to stderr)")
	daemonize  = flag.BoolP("daemon", "d", false, "Detach and run in the background")
	pidPath    = flag.String("pid", "", "PID file used with -d (defaults next to the journal)")
)

// setupLogging configures the log output destination.
func setupLogging(logFilePath string) (*os.File, error) {
	if logFilePath == "" {
		log.SetOutput(os.Stderr)
		log.Println("Logging to stderr")
		return nil, nil
	}

	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	log.SetOutput(file)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Printf("Logging to file: %s", logFilePath)
	return file, nil
}

// daemonContext builds the go-daemon context. The child runs from "/", so
// every path flag is made absolute and passed on explicitly.
func daemonContext() (*daemon.Context, error) {
	dataDir := filepath.Dir(config.DefaultDatabasePath())
	if *pidPath == "" {
		*pidPath = filepath.Join(dataDir, "autosave.pid")
	}
	if *logPath == "" {
		*logPath = filepath.Join(dataDir, "autosave.log")
	}
	for _, p := range []*string{configPath, logPath, pidPath} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", *p, err)
		}
		*p = abs
	}

	args := []string{os.Args[0], "--daemon", "--log", *logPath, "--pid", *pidPath}
	if *configPath != "" {
		args = append(args, "--config", *configPath)
	}

	return &daemon.Context{
		PidFileName: *pidPath,
		PidFilePerm: 0644,
		LogFileName: *logPath,
		LogFilePerm: 0640,
		WorkDir:     "/",
		Umask:       027,
		Args:        args,
	}, nil
}

// detach re-executes the daemon in the background. It returns the context
// in the child and exits in the parent.
func detach() *daemon.Context {
	dctx, err := daemonContext()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*pidPath), 0750); err != nil {
		log.Fatalf("FATAL: Failed to create data directory: %v", err)
	}

	child, err := dctx.Reborn()
	if err != nil {
		log.Fatalf("FATAL: Failed to detach: %v", err)
	}
	if child != nil {
		fmt.Printf("AutoSave started in background (pid %d)\n", child.Pid)
		os.Exit(0)
	}
	return dctx
}

func main() {
	flag.Parse()

	if *daemonize {
		dctx := detach()
		defer dctx.Release()
	}

	logFile, logErr := setupLogging(*logPath)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Error setting up file logging: %v. Logging to stderr instead.\n", logErr)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// Viper checks env vars and config files (./, ~/.config/autosave/, /etc/autosave/)
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	application, err := app.NewApp(cfg, app.Deps{})
	if err != nil {
		log.Fatalf("FATAL: Failed to create application: %v", err)
	}

	// Blocks until SIGINT/SIGTERM.
	if err := application.Run(); err != nil {
		log.Fatalf("FATAL: Application exited with error: %v", err)
	}

	log.Println("AutoSave finished successfully.")
}
