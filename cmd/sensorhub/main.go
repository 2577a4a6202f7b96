// sensorhub runs the BMI160 sensor task on a Linux host.
//
// It drives the chip over SPI or I2C through periph.io, watches the two
// interrupt lines, and publishes samples, events and calibration results on
// a websocket stream next to a Prometheus metrics endpoint.
//
// Usage:
//
//	sensorhub run [--config file] [--simulate]
//	sensorhub probe
//	sensorhub calibrate accel|gyro [--save]
//	sensorhub selftest accel|gyro
//	sensorhub config init [-o file] [--print] [-y]
//
// Configuration is read from --config, then SENSORHUB_CONFIG, then
// sensorhub.yaml in $HOME/.config/sensorhub, /etc/sensorhub and the current
// directory. SENSORHUB_<SECTION>_<OPTION> environment variables and command
// line flags override the file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imu-sensorhub/pkg/config"
	"imu-sensorhub/pkg/log"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sensorhub",
		Short:         "BMI160 sensor task host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "configuration file")
	root.PersistentFlags().Bool("simulate", false, "run against a simulated chip")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(runCmd(), probeCmd(), calibrateCmd(), selfTestCmd(), configCmd())
	return root
}

// loadOptions reads the configuration for cmd and installs the logger it
// describes.
func loadOptions(cmd *cobra.Command) (*config.Options, error) {
	path, _ := cmd.Flags().GetString("config")
	opts, used, err := config.Load(path, cmd)
	if err != nil {
		return nil, err
	}
	l := log.New("")
	log.ConfigureFromEnv(l)
	l.SetLevel(log.ParseLevel(opts.Log.Level))
	l.SetFormat(log.ParseFormat(opts.Log.Format))
	log.SetDefaultLogger(l)
	if used != "" {
		l.Info("using config file %s", used)
	}
	return opts, nil
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
