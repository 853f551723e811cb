// v0
// cmd/sensorhub/simulate.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reneeyyx/CareSphere/internal/simulate"
)

func simulateCmd() *cobra.Command {
	var (
		interval  time.Duration
		count     int
		heartRate bool
		corrupt   int
		nullTemp  int
		seed      int64
		broker    string
		topic     string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Emit mock Arduino readings to stdout or an MQTT topic",
		Long: `Generate readings the way the board prints them.

Examples:
  sensorhub simulate --count 10
  sensorhub simulate --mqtt-broker tcp://localhost:1883 --mqtt-topic sensors/arduino`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelInfo}))

			var emitter simulate.Emitter = simulate.WriterEmitter{W: cmd.OutOrStdout()}
			if broker != "" {
				e, err := simulate.NewMQTTEmitter(broker, topic, 0)
				if err != nil {
					return err
				}
				emitter = e
				log.Info("simulate_mqtt_connected", slog.String("broker", broker), slog.String("topic", topic))
			}
			defer emitter.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gen := simulate.NewGenerator(simulate.Config{
				HeartRate:            heartRate,
				CorruptEvery:         corrupt,
				NullTemperatureEvery: nullTemp,
				Seed:                 seed,
			}, time.Now())
			sent, err := simulate.Run(ctx, gen, emitter, interval, count, log)
			log.Info("simulate_finished", slog.Int("sent", sent))
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("simulate: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "time between readings")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many readings, 0 for no limit")
	cmd.Flags().BoolVar(&heartRate, "heart-rate", false, "include the legacy heart_rate field")
	cmd.Flags().IntVar(&corrupt, "corrupt-every", 0, "emit a truncated line every N readings")
	cmd.Flags().IntVar(&nullTemp, "null-temperature-every", 0, "report a missing thermistor every N readings")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed, 0 for time based")
	cmd.Flags().StringVar(&broker, "mqtt-broker", "", "publish to this MQTT broker instead of stdout")
	cmd.Flags().StringVar(&topic, "mqtt-topic", "sensors/arduino", "MQTT topic to publish on")
	return cmd
}
