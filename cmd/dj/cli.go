package main

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/extdj/dj/pkg/elog"
)

var log elog.View

// runID correlates every log line a single invocation produces, the way a
// request ID would in a long-lived server; here it just tags one run.
var runID string

var (
	flagVerbose bool
	flagDebug   bool
	flagJSON    bool
	flagConfig  string
)

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "enable json output")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "optional YAML file providing defaults for the budget flags")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}

		if flagJSON {
			logger.DisableTTY = true
			logrus.SetFormatter(&logrus.JSONFormatter{})
		} else {
			logrus.SetFormatter(logger)
		}

		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}

		log = logger
		runID = uuid.New().String()

		if err := loadConfigFile(cmd); err != nil {
			return err
		}

		log.Debugf("run %s starting", runID)
		return nil
	}

	addRunFlags()
}

// loadConfigFile lets a YAML file set defaults for the budget flags, with
// any value actually given on the command line still taking precedence.
func loadConfigFile(cmd *cobra.Command) error {
	if flagConfig == "" {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(flagConfig)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	f := cmd.Flags()
	for _, name := range []string{"max-inodes", "max-blocks", "coalesce-distance", "direct"} {
		if f.Changed(name) || !v.IsSet(name) {
			continue
		}
		if err := f.Set(name, v.GetString(name)); err != nil {
			return err
		}
	}
	return nil
}
