package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/racesync/go/internal/geom"
	"github.com/mcdev12/racesync/go/internal/multiplayer/client"
	"github.com/mcdev12/racesync/go/internal/multiplayer/protocol"
	"github.com/mcdev12/racesync/go/internal/race"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type driveOptions struct {
	server      string
	origin      string
	room        string
	name        string
	appearance  string
	tickRate    int
	lapDuration time.Duration
	radius      float64
	timeout     time.Duration
}

func newDriveCmd() *cobra.Command {
	opts := driveOptions{}
	cmd := &cobra.Command{
		Use:   "drive",
		Short: "Join a room and lap the track without a renderer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrive(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "ws://localhost:3001/ws/race", "gateway websocket URL")
	flags.StringVar(&opts.origin, "origin", "http://localhost:5173", "Origin header sent to the gateway")
	flags.StringVar(&opts.room, "room", "1234", "room code to create or join")
	flags.StringVar(&opts.name, "name", "bot", "display name")
	flags.StringVar(&opts.appearance, "appearance", `{"model":"default","color":"#e10600"}`, "vehicle appearance as a JSON object")
	flags.IntVar(&opts.tickRate, "tick-rate", client.DefaultTickRate, "motion samples per second")
	flags.DurationVar(&opts.lapDuration, "lap-duration", 20*time.Second, "time to drive one loop of the circuit")
	flags.Float64Var(&opts.radius, "circuit-radius", 15, "radius of the synthetic circuit")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "handshake and write timeout")
	return cmd
}

// logNotifier writes player notifications to the log
type logNotifier struct{}

func (logNotifier) Notify(kind, message string, duration time.Duration) {
	log.Info().Str("kind", kind).Dur("duration", duration).Msg(message)
}

// Circuit is a synthetic vehicle driving a circle that passes through the
// track's start point, one loop per lap duration
type Circuit struct {
	clock       clockwork.Clock
	center      geom.Vec3
	radius      float64
	lapDuration time.Duration
	startedAt   time.Time
}

func NewCircuit(start geom.Vec3, radius float64, lapDuration time.Duration, clock clockwork.Clock) *Circuit {
	return &Circuit{
		clock:       clock,
		center:      geom.Vec3{start[0] + radius, start[1], start[2]},
		radius:      radius,
		lapDuration: lapDuration,
		startedAt:   clock.Now(),
	}
}

// Restart puts the vehicle back on the start point
func (c *Circuit) Restart() {
	c.startedAt = c.clock.Now()
}

// LocalVehiclePosition returns where the vehicle is now
func (c *Circuit) LocalVehiclePosition() geom.Vec3 {
	pos, _ := c.Pose()
	return pos
}

// Pose returns the position and heading of the vehicle now
func (c *Circuit) Pose() (geom.Vec3, geom.Quat) {
	elapsed := c.clock.Since(c.startedAt)
	theta := 2 * math.Pi * float64(elapsed%c.lapDuration) / float64(c.lapDuration)

	pos := geom.Vec3{
		c.center[0] - c.radius*math.Cos(theta),
		c.center[1],
		c.center[2] + c.radius*math.Sin(theta),
	}
	// Forward is +Z, and the tangent at theta is (sin, 0, cos), so the
	// heading is a rotation of theta about Y.
	orient := geom.Quat{0, math.Sin(theta / 2), 0, math.Cos(theta / 2)}
	return pos, orient
}

// driver advances the local race and streams motion each tick
type driver struct {
	circuit *Circuit
	machine *race.Machine
	adapter *client.Adapter
	laps    int
}

func (d *driver) step() error {
	if d.machine.Progress().Phase == race.PhaseWaiting {
		d.circuit.Restart()
		d.machine.Start()
	}

	pos, orient := d.circuit.Pose()
	if d.machine.Sample(pos) {
		d.laps++
		lap, _ := d.machine.LapTime()
		best := d.machine.Progress().BestLapTime
		log.Info().
			Int("lap", d.laps).
			Dur("lap_time", lap).
			Dur("best_lap", best).
			Int("remote_racers", len(d.adapter.Remotes())).
			Msg("lap complete")
		d.machine.Reset()
	}

	if _, err := d.adapter.SendMotion(pos, orient); err != nil {
		return err
	}
	return nil
}

func runDrive(parent context.Context, opts driveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	if opts.lapDuration <= 0 {
		return fmt.Errorf("lap duration must be positive")
	}
	var appearance protocol.AppearanceConfig
	if err := json.Unmarshal([]byte(opts.appearance), &appearance); err != nil {
		return fmt.Errorf("invalid appearance: %w", err)
	}
	track, err := loadTrack()
	if err != nil {
		return fmt.Errorf("failed to load track: %w", err)
	}
	if 2*opts.radius < track.Radius+track.Hysteresis {
		return fmt.Errorf("circuit radius %v never leaves the start zone", opts.radius)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := client.NewConn(opts.server)
	if opts.origin != "" {
		conn.SetHeader("Origin", opts.origin)
	}
	if opts.timeout > 0 {
		conn.SetTimeout(opts.timeout)
	}
	if err := conn.Dial(ctx); err != nil {
		return err
	}
	defer conn.Close()

	clock := clockwork.NewRealClock()
	notifier := logNotifier{}
	adapter := client.NewAdapter(conn, notifier, clock, opts.tickRate)
	d := &driver{
		circuit: NewCircuit(track.StartPoint, opts.radius, opts.lapDuration, clock),
		machine: race.NewMachine(track, clock, notifier),
		adapter: adapter,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := conn.Run(ctx, adapter.HandleFrame)
		adapter.Disconnected()
		if err == nil && ctx.Err() == nil {
			return fmt.Errorf("gateway closed the connection")
		}
		return err
	})
	g.Go(func() error {
		if err := adapter.JoinRoom(opts.room, opts.name, appearance); err != nil {
			return err
		}
		ticker := clock.NewTicker(time.Second / time.Duration(max(opts.tickRate, 1)))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.Chan():
				if err := d.step(); err != nil {
					return err
				}
			}
		}
	})

	log.Info().
		Str("server", opts.server).
		Str("room", opts.room).
		Str("name", opts.name).
		Str("track", track.Name).
		Msg("driving")

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Int("laps", d.laps).Msg("driver stopped")
	return nil
}
