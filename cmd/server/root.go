package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/slidecraft/server/internal/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.AppConfig
	configErr  error
}

// ensureConfig loads --config, or config.yml when present, and falls back
// to defaults plus environment variables.
func (c *commandContext) ensureConfig() (*config.AppConfig, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			if _, err := os.Stat(config.DefaultConfigPath); err == nil {
				path = config.DefaultConfigPath
			}
		}
		if path == "" {
			if err := config.LoadDotEnv(".env"); err != nil {
				c.configErr = err
				return
			}
			c.config, c.configErr = config.FromEnv()
			return
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			c.configErr = err
			return
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "slidecraft",
		Short:         "SlideCraft presentation generation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to YAML or TOML config file")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	return rootCmd
}
