package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imu-sensorhub/pkg/metrics"
	"imu-sensorhub/pkg/stream"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the sensor task and serve the event stream",
		Long: `run boots the chip, then serves the websocket event stream and the
metrics endpoint until interrupted. Clients subscribe to channels by sending
{"type":"subscribe","channel":"accel","rate_hz":100,"latency_ms":50}.`,
		Example: `  sensorhub run --config /etc/sensorhub/sensorhub.yaml
  sensorhub run --simulate --listen :7130`,
		RunE: runE,
	}
	cmd.Flags().String("listen", "", "listen address for the stream and metrics")
	cmd.Flags().String("bus", "", "bus type: spi or i2c")
	cmd.Flags().String("spi-port", "", "periph SPI port name")
	cmd.Flags().String("i2c-bus", "", "periph I2C bus name")
	cmd.Flags().String("int1-pin", "", "INT1 gpio name")
	cmd.Flags().String("int2-pin", "", "INT2 gpio name")
	return cmd
}

func runE(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	simulate, _ := cmd.Flags().GetBool("simulate")

	n, err := newNode(opts, simulate)
	if err != nil {
		return err
	}
	defer n.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	events := stream.New(n.hub, nil)
	n.hub.AddSink(events)

	srvCfg := metrics.DefaultServerConfig()
	srvCfg.Address = opts.Server.Listen
	srvCfg.MetricsPath = opts.Server.MetricsPath
	srv := metrics.NewServer(n.metrics, srvCfg, n.ready)
	srv.Mux().Handle(opts.Server.StreamPath, events)

	n.start(ctx, g)

	g.Go(func() error {
		n.log.Info("serving %s%s and %s%s", opts.Server.Listen, opts.Server.StreamPath,
			opts.Server.Listen, opts.Server.MetricsPath)
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-ctx.Done()
		events.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := n.waitReady(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n.log.WithError(err).Error("init")
			return err
		}
		n.log.Info("%s ready", n.desc)
		return n.pushCalibration()
	})

	err = g.Wait()
	n.log.Info("stopped")
	return err
}
