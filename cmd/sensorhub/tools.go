package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imu-sensorhub/pkg/config"
	"imu-sensorhub/pkg/sensor"
)

const resultTimeout = 5 * time.Second

// withNode boots the stack, runs fn once the task is ready and shuts the
// stack down again.
func withNode(cmd *cobra.Command, fn func(ctx context.Context, n *node) error) error {
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
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	n.start(gctx, g)

	err = n.waitReady(gctx)
	if err == nil {
		err = fn(gctx, n)
	}
	cancel()
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}

// packetSink collects result packets; everything else is dropped.
type packetSink struct {
	packets chan sensor.ResultPacket
}

func newPacketSink() *packetSink {
	return &packetSink{packets: make(chan sensor.ResultPacket, 4)}
}

func (s *packetSink) Samples(*sensor.SampleBatch)  {}
func (s *packetSink) Flush(sensor.Channel)         {}
func (s *packetSink) Event(sensor.Channel, uint64) {}

func (s *packetSink) Packet(p sensor.ResultPacket) {
	select {
	case s.packets <- p:
	default:
	}
}

func (s *packetSink) wait(ctx context.Context, t sensor.Type, msg uint8) (sensor.ResultPacket, error) {
	ctx, cancel := context.WithTimeout(ctx, resultTimeout)
	defer cancel()
	for {
		select {
		case p := <-s.packets:
			if p.SensorType == t && p.MsgID == msg {
				return p, nil
			}
		case <-ctx.Done():
			return sensor.ResultPacket{}, fmt.Errorf("no result: %w", ctx.Err())
		}
	}
}

func statusName(s uint8) string {
	switch s {
	case sensor.StatusSuccess:
		return "success"
	case sensor.StatusBusy:
		return "busy"
	default:
		return "error"
	}
}

// parseFocChannel accepts the channels that support FOC and self-test.
func parseFocChannel(name string) (sensor.Channel, error) {
	ch, ok := sensor.ParseChannel(name)
	if !ok || (ch != sensor.Accel && ch != sensor.Gyro) {
		return 0, fmt.Errorf("channel %q: want accel or gyro", name)
	}
	return ch, nil
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "detect the chip and print its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(cmd, func(ctx context.Context, n *node) error {
				s, err := n.snapshot(ctx)
				if err != nil {
					return err
				}
				submitted, failed := n.sched.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "device:    %s\n", n.desc)
				fmt.Fprintf(cmd.OutOrStdout(), "state:     %s\n", s.State)
				fmt.Fprintf(cmd.OutOrStdout(), "bus:       %d batches, %d failed\n", submitted, failed)
				fmt.Fprintf(cmd.OutOrStdout(), "offsets:   accel %v gyro %v\n", s.Offsets[sensor.Accel], s.Offsets[sensor.Gyro])
				return nil
			})
		},
	}
}

func calibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "calibrate accel|gyro",
		Short:     "run fast offset compensation",
		Long:      "calibrate runs the chip's fast offset compensation with the device at rest and level.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"accel", "gyro"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseFocChannel(args[0])
			if err != nil {
				return err
			}
			save, _ := cmd.Flags().GetBool("save")
			return withNode(cmd, func(ctx context.Context, n *node) error {
				sink := newPacketSink()
				n.hub.AddSink(sink)
				n.task.Calibrate(ch)
				p, err := sink.wait(ctx, sensor.Descriptors[ch].Type, sensor.MsgCalResult)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s calibration: %s offsets %v\n", ch, statusName(p.Status), p.Bias)
				if p.Status != sensor.StatusSuccess {
					return fmt.Errorf("%s calibration %s", ch, statusName(p.Status))
				}
				if !save {
					return nil
				}
				return saveOffsets(n.opts.Engine.CalibrationFile, ch, p.Bias)
			})
		},
	}
	cmd.Flags().Bool("save", false, "store the offsets in engine.calibration_file")
	return cmd
}

func saveOffsets(path string, ch sensor.Channel, v [3]int32) error {
	if path == "" {
		return config.ErrMissingOption("engine", "calibration_file")
	}
	cal, err := config.LoadCalibration(path)
	if err != nil {
		return err
	}
	if ch == sensor.Accel {
		cal.Accel = config.OffsetsFrom(v)
	} else {
		cal.Gyro = config.OffsetsFrom(v)
	}
	return config.SaveCalibration(path, cal)
}

func selfTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "selftest accel|gyro",
		Short:     "run the built-in self-test",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"accel", "gyro"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseFocChannel(args[0])
			if err != nil {
				return err
			}
			return withNode(cmd, func(ctx context.Context, n *node) error {
				sink := newPacketSink()
				n.hub.AddSink(sink)
				n.task.SelfTest(ch)
				p, err := sink.wait(ctx, sensor.Descriptors[ch].Type, sensor.MsgTestResult)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s self-test: %s\n", ch, statusName(p.Status))
				if p.Status != sensor.StatusSuccess {
					return fmt.Errorf("%s self-test %s", ch, statusName(p.Status))
				}
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "configuration helpers",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "write a configuration template",
		Long: `init writes the default configuration. With --print it goes to stdout,
otherwise to --output, refusing to overwrite an existing file without --yes.`,
		Example: `  sensorhub config init --print
  sensorhub config init -o /etc/sensorhub/sensorhub.yaml -y`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Default()
			if p, _ := cmd.Flags().GetBool("print"); p {
				data, err := config.Marshal(&opts)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			yes, _ := cmd.Flags().GetBool("yes")
			if _, err := os.Stat(out); err == nil && !yes {
				return fmt.Errorf("%s exists, use --yes to overwrite", out)
			}
			if err := config.Save(out, &opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	initCmd.Flags().Bool("print", false, "print the template to stdout")
	initCmd.Flags().BoolP("yes", "y", false, "overwrite an existing file")
	initCmd.Flags().StringP("output", "o", defaultConfigPath(), "output file")
	cmd.AddCommand(initCmd)
	return cmd
}

func defaultConfigPath() string {
	paths := config.SearchPaths()
	return paths[0] + "/" + config.DefaultConfigName + ".yaml"
}
