// Package station wires the bus, the live-state cache, the aggregator, the
// control loop and the query API into one process.
package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pigeon9001/pigeon/internal/actuator"
	"github.com/pigeon9001/pigeon/internal/aggregator"
	"github.com/pigeon9001/pigeon/internal/api"
	"github.com/pigeon9001/pigeon/internal/bus"
	"github.com/pigeon9001/pigeon/internal/cache"
	"github.com/pigeon9001/pigeon/internal/config"
	"github.com/pigeon9001/pigeon/internal/control"
	"github.com/pigeon9001/pigeon/internal/monitoring"
	"github.com/pigeon9001/pigeon/internal/timeutil"
)

const shutdownTimeout = time.Second

// Options override parts of the station for tests and bench runs.
type Options struct {
	// Clock drives the control loop and cache timestamps. Nil means real time.
	Clock timeutil.Clock
	// Driver replaces the driver named in the config.
	Driver actuator.Driver
}

// Station owns every long-lived resource of the process. The cache it
// creates is shared by reference between the aggregator (sole writer), the
// control loop and the API (readers).
type Station struct {
	cache   *cache.LiveState
	sub     *bus.Subscriber
	pub     *bus.Publisher
	hub     *bus.Hub
	mirror  *bus.MQTTMirror
	valves  *actuator.Valves
	closers []io.Closer

	agg      *aggregator.Aggregator
	loop     *control.Loop
	server   *http.Server
	listener net.Listener
}

// New opens the bus endpoints, the actuator driver and the HTTP listener.
// Nothing runs until Run is called. On error everything opened so far is
// closed again.
func New(cfg *config.Config, opts Options) (*Station, error) {
	params, err := cfg.Control.Params()
	if err != nil {
		return nil, err
	}

	s := &Station{cache: cache.New(), hub: bus.NewHub()}
	if err := s.open(cfg, opts, params); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// open fills s in dependency order. Whatever it opened before failing is
// left in s for Close.
func (s *Station) open(cfg *config.Config, opts Options, params control.Params) (err error) {
	driver := opts.Driver
	if driver == nil {
		if driver, err = openDriver(cfg.Actuator); err != nil {
			return err
		}
		if c, ok := driver.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
	}
	if s.valves, err = actuator.NewValves(driver, cfg.Actuator.GetBoostPin(), cfg.Actuator.GetBrakePin()); err != nil {
		return err
	}

	if s.pub, err = bus.Listen(cfg.GetAddress()); err != nil {
		return err
	}
	if s.sub, err = bus.Dial(cfg.Publishers); err != nil {
		return err
	}
	for _, p := range cfg.Publishers {
		monitoring.Logf("subscribed to %s", p)
	}

	fwds := []bus.Forwarder{s.pub, s.hub}
	if cfg.MQTT != nil {
		client, err := bus.ConnectMQTT(cfg.MQTT.Broker, cfg.MQTT.GetClientID())
		if err != nil {
			return err
		}
		s.mirror = bus.NewMQTTMirror(client, cfg.MQTT.GetTopic())
		fwds = append(fwds, s.mirror)
		monitoring.Logf("mirroring frames to %s topic %s", cfg.MQTT.Broker, cfg.MQTT.GetTopic())
	}

	s.agg = aggregator.New(s.sub, s.cache, bus.Tee(fwds...), opts.Clock)
	s.agg.Verbose = cfg.GetVerbose()

	if s.loop, err = control.NewLoop(params, s.cache, s.valves, opts.Clock); err != nil {
		return err
	}

	if s.listener, err = net.Listen("tcp", cfg.GetListen()); err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GetListen(), err)
	}
	s.server = &http.Server{
		Handler:           api.NewServer(s.cache, s.valves, s.hub).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func openDriver(cfg config.ActuatorConfig) (actuator.Driver, error) {
	switch cfg.GetDriver() {
	case config.DriverSerial:
		d, err := actuator.OpenSerialDriver(cfg.Port, cfg.Serial)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DriverRecorder:
		return actuator.NewRecorder(), nil
	default:
		return actuator.Disabled{}, nil
	}
}

// HTTPAddr is the address the query API is listening on.
func (s *Station) HTTPAddr() string {
	return s.listener.Addr().String()
}

// Cache exposes the live state.
func (s *Station) Cache() *cache.LiveState {
	return s.cache
}

// Run starts the aggregator, the control loop and the HTTP server and waits
// for them. The first fatal error in any of them stops the others and is
// returned; the process is expected to exit and be restarted by its
// supervisor. Cancelling ctx is a clean shutdown and returns nil.
func (s *Station) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.agg.Run(gctx)
		monitoring.Logf("aggregator stopped after %d frames", s.agg.Frames())
		if gctx.Err() != nil {
			// the subscriber is closed during teardown
			return gctx.Err()
		}
		return err
	})

	g.Go(func() error {
		err := s.loop.Run(gctx)
		cycles, overruns := s.loop.Stats()
		monitoring.Logf("control loop stopped after %d cycles, %d overruns", cycles, overruns)
		return err
	})

	g.Go(func() error {
		monitoring.Logf("query API listening on %s", s.HTTPAddr())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// teardown: unblock the bus reader and stop the HTTP server
	g.Go(func() error {
		<-gctx.Done()
		s.sub.Close()
		s.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			s.server.Close()
		}
		return nil
	})

	err := g.Wait()

	// leave the valves closed whatever stopped the station
	if relErr := s.valves.Release(); relErr != nil {
		monitoring.Warnf("could not release valves on shutdown: %v", relErr)
	}

	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases every resource New opened. It is safe to call after Run.
func (s *Station) Close() error {
	var errs []error
	if s.listener != nil {
		// already closed by a finished Run; the error carries no information
		s.listener.Close()
	}
	if s.sub != nil {
		s.sub.Close()
	}
	if s.pub != nil {
		if err := s.pub.Close(); err != nil && !errors.Is(err, bus.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.mirror != nil {
		errs = append(errs, s.mirror.Close())
	}
	s.hub.Close()
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
