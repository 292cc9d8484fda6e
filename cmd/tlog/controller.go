package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kalambet/tlog/internal/config"
	"github.com/kalambet/tlog/internal/controller"
	"github.com/kalambet/tlog/internal/tui"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Inspect hardware controllers",
}

var controllerPortsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := controller.ListPorts()
		if err != nil {
			return fmt.Errorf("listing serial ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found.")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}

var controllerMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show live controller input, with keyboard fallback",
	Long: `Show button and encoder state for each player. Players without a
connected controller read the keyboard instead: player one uses 'e' and
space, player two uses enter and backslash.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, _ := cmd.Flags().GetStringSlice("port")
		plain, _ := cmd.Flags().GetBool("plain")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if len(ports) == 0 && cfg.Controller.Port != "" {
			ports = []string{cfg.Controller.Port}
		}
		setups := make([]controller.Setup, len(ports))
		for i, p := range ports {
			setups[i] = controller.Setup{Port: p, BaudRate: cfg.Controller.BaudRate}
		}

		kb := controller.NewKeyboard()
		mgr := controller.NewManager(controller.ManagerConfig{
			Controllers: setups,
			MinPlayers:  cfg.Controller.MinPlayers,
			Keyboard:    kb,
		})
		defer mgr.Close()

		if plain {
			return monitorPlain(cmd.Context(), mgr, kb)
		}
		_, err = tea.NewProgram(tui.NewMonitorModel(mgr, kb, 0), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func init() {
	controllerMonitorCmd.Flags().StringSlice("port", nil, "serial port per player (repeatable)")
	controllerMonitorCmd.Flags().Bool("plain", false, "print state changes as lines instead of a full-screen view")
	controllerCmd.AddCommand(controllerPortsCmd, controllerMonitorCmd)
}

// monitorPlain puts the terminal in raw mode, feeds stdin to kb and prints
// one line per state change. q or ctrl+c exits.
func monitorPlain(ctx context.Context, mgr *controller.Manager, kb *controller.Keyboard) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(fd, state)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Watch for quit keys before the keyboard sees them.
	go func() {
		buf := make([]byte, 16)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				cancel()
				return
			}
			for _, b := range buf[:n] {
				if b == 'q' || b == 3 {
					cancel()
					return
				}
				kb.Press(b)
			}
		}
	}()

	ticker := time.NewTicker(tui.DefaultMonitorInterval)
	defer ticker.Stop()

	pressed := make([]bool, mgr.Len())
	fmt.Print("watching controllers, press q to quit\r\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		mgr.Update()
		for i := 0; i < mgr.Len(); i++ {
			c := mgr.Controller(i)
			source := "keyboard"
			if c.HardwareConnected() {
				source = c.PortName()
			}
			if d := c.EncoderDelta(); d != 0 {
				fmt.Printf("p%d [%s] encoder %+d (count %d)\r\n", i, source, d, c.EncoderCount())
			}
			if p := c.ButtonPressed(); p != pressed[i] {
				pressed[i] = p
				state := "released"
				if p {
					state = "pressed"
				}
				fmt.Printf("p%d [%s] button %s\r\n", i, source, state)
			}
		}
	}
}
