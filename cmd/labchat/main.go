// Command labchat is a terminal client for the lab chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"labchat/internal/chat"
	"labchat/internal/logger"
)

type config struct {
	Server  string `yaml:"server"`
	Section string `yaml:"section"`
}

var (
	cfg      = config{Server: "http://localhost:8080", Section: string(chat.DefaultSection)}
	cfgPath  string
	logLevel string
	log      logger.Logger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "labchat",
		Short:        "Anonymous lab chat from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log = logger.NewLogger(logLevel)
			server, _ := cmd.Flags().GetString("server")
			section, _ := cmd.Flags().GetString("section")
			if err := loadConfig(cfgPath); err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.Server = server
			}
			if cmd.Flags().Changed("section") {
				cfg.Section = section
			}
			if _, err := chat.ParseSection(cfg.Section); err != nil {
				return err
			}
			cfg.Server = strings.TrimRight(cfg.Server, "/")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file")
	root.PersistentFlags().String("server", cfg.Server, "server base url")
	root.PersistentFlags().StringP("section", "s", cfg.Section, "chat section")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(sectionsCmd(), sendCmd(), watchCmd(), copyCmd())
	return root
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "labchat.yaml"
	}
	return filepath.Join(dir, "labchat.yaml")
}

// loadConfig merges the yaml file into cfg. A missing file is fine.
func loadConfig(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func sectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "List chat sections",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, s := range chat.Sections() {
				marker := " "
				if string(s.ID) == cfg.Section {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-14s %s\n", marker, s.ID, s.Name)
			}
		},
	}
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
