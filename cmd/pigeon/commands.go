package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pigeon9001/pigeon/internal/api"
	"github.com/pigeon9001/pigeon/internal/bus"
	"github.com/pigeon9001/pigeon/internal/config"
	"github.com/pigeon9001/pigeon/internal/monitoring"
	"github.com/pigeon9001/pigeon/internal/producer"
	"github.com/pigeon9001/pigeon/internal/station"
	"github.com/pigeon9001/pigeon/internal/version"
	"github.com/pigeon9001/pigeon/internal/wire"
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pigeon",
		Short: "Landing control station",
		Long: `pigeon aggregates sensor frames from a local message bus into a live
state cache, runs the landing control loop against it and drives the boost
and brake valves. It also ships a simulated producer for bench runs.`,
		SilenceUsage: true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(publishCmd())
	root.AddCommand(kindsCmd())
	root.AddCommand(stateCmd())
	root.AddCommand(versionCmd())
	return root
}

// runCmd starts the station
func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the aggregator, control loop and query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{}
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			} else if err := cfg.Validate(); err != nil {
				return err
			}

			monitoring.Logf("%s starting, re-publishing on %s", version.String(), cfg.GetAddress())
			st, err := station.New(cfg, station.Options{})
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := st.Run(ctx); err != nil {
				return fmt.Errorf("station stopped: %w", err)
			}
			monitoring.Logf("graceful shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a .json or .yaml config file")
	return cmd
}

type publishOptions struct {
	kind    string
	address string
	period  time.Duration
	min     float64
	max     float64
	smooth  bool
	seed    uint64
}

// buildSampler turns the publish flags into a sampler. IsFalling is derived
// from a simulated vertical acceleration, the way the inertial producer does.
func (o publishOptions) buildSampler() (producer.Sampler, error) {
	kind, err := wire.ParseKind(o.kind)
	if err != nil {
		return nil, err
	}

	sampleKind := kind
	if kind == wire.IsFalling {
		sampleKind = wire.AccelerometerZ
	}
	var s producer.Sampler
	s, err = producer.NewUniform(sampleKind, o.min, o.max, o.seed)
	if err != nil {
		return nil, err
	}
	if o.smooth {
		s = producer.NewSmoother(s)
	}
	if kind == wire.IsFalling {
		accel := s
		s = producer.SamplerFunc(func() (wire.Message, error) {
			m, err := accel.Sample()
			if err != nil {
				return wire.Message{}, err
			}
			return producer.FallingFromAccel(float64(m.Decimal)), nil
		})
	}
	return s, nil
}

// publishCmd runs a simulated producer
func publishCmd() *cobra.Command {
	var opts publishOptions

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish random samples of one kind, as a producer without hardware",
		RunE: func(cmd *cobra.Command, args []string) error {
			sampler, err := opts.buildSampler()
			if err != nil {
				return err
			}
			pub, err := bus.Listen(opts.address)
			if err != nil {
				return err
			}
			defer pub.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			monitoring.Logf("publishing random %s values on %s every %s", opts.kind, opts.address, opts.period)
			err = producer.Run(ctx, pub, sampler, nil, opts.period)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", wire.LongDistanceSensor.String(), "Measurement kind to publish")
	cmd.Flags().StringVarP(&opts.address, "address", "a", "ipc:///tmp/gp2d12.ipc", "Address to bind")
	cmd.Flags().DurationVarP(&opts.period, "period", "d", time.Millisecond, "Delay between samples")
	cmd.Flags().Float64Var(&opts.min, "min", 0, "Lower bound of the random values")
	cmd.Flags().Float64Var(&opts.max, "max", 80, "Upper bound of the random values")
	cmd.Flags().BoolVar(&opts.smooth, "smooth", false, "Publish the trimmed mean of the last 25 samples")
	cmd.Flags().Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// kindsCmd lists the measurement kinds
func kindsCmd() *cobra.Command {
	var stationURL string

	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List measurement kinds as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stationURL == "" {
				kinds := make([]api.KindInfo, 0, wire.NumKinds)
				for _, k := range wire.Kinds() {
					kinds = append(kinds, api.KindInfo{Ordinal: uint32(k), Name: k})
				}
				return writeJSON(cmd.OutOrStdout(), kinds)
			}
			kinds, err := api.NewClient(stationURL, nil).Kinds(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), kinds)
		},
	}

	cmd.Flags().StringVar(&stationURL, "station", "", "Ask a running station instead, e.g. http://localhost:3000")
	return cmd
}

// stateCmd prints the live state of a running station
func stateCmd() *cobra.Command {
	var (
		stationURL string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the live state of a running station",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			state, err := api.NewClient(stationURL, nil).State(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}

	cmd.Flags().StringVar(&stationURL, "station", "http://localhost"+config.DefaultListen, "Station base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
