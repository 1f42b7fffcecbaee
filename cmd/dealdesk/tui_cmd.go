package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fentz26/dealdesk/internal/config"
	"github.com/fentz26/dealdesk/internal/tui"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive board",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	if !isDaemonRunning() {
		fmt.Printf("No daemon at %s, launching one in the background\n", apiAddr)
		if err := startDaemon(); err != nil {
			return fmt.Errorf("launch daemon: %w", err)
		}
	}
	return tui.New(apiAddr, cfg.MarkerRune()).Run()
}

func isDaemonRunning() bool {
	health, err := CheckHealth()
	return err == nil && health.OK
}

func startDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	proc := exec.Command(exe, args...)
	configureDaemonProc(proc)
	if err := proc.Start(); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if isDaemonRunning() {
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("daemon pid %d did not answer on %s within 5s", proc.Process.Pid, apiAddr)
}
