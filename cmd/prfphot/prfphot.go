package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abworrall/prfphot/pkg/phot"
)

var (
	logLevel   = "info"
	configPath = ""
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.Kitchen,
	})
	return nil
}

// loadConfig reads --config if there is one, else uses the defaults.
func loadConfig() (phot.Config, error) {
	c := phot.NewConfig()
	if configPath == "" {
		if err := c.FinalizeConfig(); err != nil {
			return c, err
		}
	} else {
		var err error
		if c, err = phot.LoadConfig(configPath); err != nil {
			return c, err
		}
	}
	applyVerbosity(c.Verbosity)
	return c, nil
}

// applyVerbosity lets a config file turn logging up past --log-level: 1 is
// debug, 2 or more is trace.
func applyVerbosity(v int) {
	level := logrus.GetLevel()
	switch {
	case v > 1:
		level = logrus.TraceLevel
	case v == 1:
		level = logrus.DebugLevel
	}
	if level > logrus.GetLevel() {
		logrus.SetLevel(level)
	}
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prfphot",
		Short: "prfphot measures stars in telescope image stamps by fitting a PRF model",
		Long: `prfphot measures stars in telescope image stamps by fitting a PRF model.

Each stamp (one per cadence) is fitted with a scene of point sources, each
drawn from a calibrated pixel response function, over a flat background.
The output is a table of fitted fluxes and positions, one row per cadence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	cmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML file of fit settings (see 'prfphot config')")

	cmd.AddCommand(
		NewFitCommand(),
		NewSynthCommand(),
		NewConfigCommand(),
		NewRunsCommand(),
	)

	return cmd
}

func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective fit settings as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), c.AsYaml())
			return nil
		},
	}
}
