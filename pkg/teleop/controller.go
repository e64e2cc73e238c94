package teleop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/armctl/pkg/robot"
)

// ManualCooldownTicks is how many ticks ordinary commands stay suppressed
// after a manual override command, giving the override exclusive but
// time-bounded control.
const ManualCooldownTicks = 200

// Config holds configuration for the controller.
type Config struct {
	Teleop robot.TeleopConfig

	// FilterAlpha smooths leader telemetry reads; 0 disables the filter.
	FilterAlpha float64

	// SafeHome, when set, is written to the follower once before the loop
	// starts so teleoperation begins from a known pose.
	SafeHome       *robot.Pose
	SafeHomeSettle time.Duration

	Logger *slog.Logger
}

// Controller runs the control loop for one leader/follower pair. On every
// tick it reads and publishes follower (and leader) telemetry; leader
// commands run through mapping, the safety monitor, and end as bus writes.
//
// The loop is single threaded. Commands arriving faster than the minimum
// interval are coalesced to the most recent one, never queued.
type Controller struct {
	leader   *robot.Arm // nil when leader poses arrive as external events
	follower *robot.Arm
	strategy Strategy
	monitor  *Monitor
	filter   *LowPass
	logger   *slog.Logger

	hz             int
	safeHomePose   *robot.Pose
	safeHomeWait   time.Duration
	session        Session
	pending        *robot.Pose // rate-limited command, last write wins
	manualCooldown int

	mu      sync.Mutex
	running bool
	outCh   chan Output
	logCh   chan string
}

// NewController creates a controller over two connected arms. leader may
// be nil when leader poses are delivered through the event channel instead
// of read from hardware.
func NewController(leader, follower *robot.Arm, cfg Config) (*Controller, error) {
	if follower == nil {
		return nil, errors.New("follower arm is required")
	}
	if !follower.Writable() {
		return nil, fmt.Errorf("follower bus: %w", robot.ErrReadOnlyBus)
	}
	if err := cfg.Teleop.ApplyDefaults(); err != nil {
		return nil, err
	}

	strategy, err := NewStrategy(cfg.Teleop, follower.Unit())
	if err != nil {
		return nil, err
	}

	var filter *LowPass
	if cfg.FilterAlpha > 0 {
		filter = NewLowPass(cfg.FilterAlpha)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		leader:       leader,
		follower:     follower,
		strategy:     strategy,
		monitor:      NewMonitor(cfg.Teleop, follower.Unit()),
		filter:       filter,
		logger:       logger,
		hz:           cfg.Teleop.Hz,
		safeHomePose: cfg.SafeHome,
		safeHomeWait: cfg.SafeHomeSettle,
		outCh:        make(chan Output, 4),
		logCh:        make(chan string, 10),
	}, nil
}

// Outputs returns a channel that receives published pose samples.
func (c *Controller) Outputs() <-chan Output {
	return c.outCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the tick frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// Names returns the follower's motor names in joint order.
func (c *Controller) Names() []robot.MotorName {
	return c.follower.Names()
}

// Latched reports whether the safety monitor has tripped.
func (c *Controller) Latched() bool {
	return c.monitor.Latched()
}

// Close releases both bus connections. It runs unconditionally and exactly
// once per arm, regardless of how the control loop ended.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	var errs []error
	if c.leader != nil {
		if err := c.leader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.follower.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start runs the control loop until the context is canceled, the events
// channel closes, or a stop event arrives. events may be nil when the
// leader arm is read directly on every tick.
func (c *Controller) Start(ctx context.Context, events <-chan Event) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.setup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok || ev.Kind == EventStop {
				c.shutdown()
				return nil
			}
			c.handle(ctx, ev)
		case <-ticker.C:
			c.handle(ctx, Event{Kind: EventTick})
		}
	}
}

// setup puts both arms in their teleoperation state: leader passive,
// follower configured and actuated, optionally parked at the safe home.
func (c *Controller) setup(ctx context.Context) error {
	if c.leader != nil {
		if err := c.leader.DisableTorque(ctx); err != nil {
			c.log("warning: failed to disable leader torque: %v", err)
		} else {
			c.log("leader arm: torque disabled (passive mode)")
		}
	}

	if err := c.follower.Configure(ctx); err != nil {
		c.log("warning: failed to configure follower: %v", err)
	}
	if err := c.follower.EnableTorque(ctx); err != nil {
		c.log("warning: failed to enable follower torque: %v", err)
	} else {
		c.log("follower arm: torque enabled")
	}

	if home := c.safeHomePose; home != nil {
		c.log("moving follower to safe home pose")
		if err := c.follower.WritePose(ctx, *home); err != nil {
			c.log("warning: safe home move failed: %v", err)
		} else if settle := c.safeHomeWait; settle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settle):
			}
		}
	}

	c.log("teleoperation started at %d Hz (%s mapping)", c.hz, c.strategy.Name())
	return nil
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventTick:
		c.tick(ctx)
	case EventCommand:
		c.command(ctx, ev.Pose, false)
	case EventManualCommand:
		c.manualCooldown = ManualCooldownTicks
		c.command(ctx, ev.Pose, true)
	}
}

// tick publishes telemetry and, when the leader arm is attached, turns its
// pose into an ordinary command. A rate-limited command stashed earlier is
// flushed here for event-driven leaders.
func (c *Controller) tick(ctx context.Context) {
	if c.manualCooldown > 0 {
		c.manualCooldown--
	}

	now := time.Now()
	if pose, stale, err := c.follower.ReadPose(ctx); err != nil {
		c.log("follower read error: %v", err)
	} else {
		if len(stale) > 0 {
			c.logger.Debug("follower telemetry has stale joints", "motors", stale)
		}
		c.publish(Output{Name: OutputFollowerPose, Pose: pose, Time: now})
	}

	if c.leader != nil {
		pose, stale, err := c.leader.ReadPose(ctx)
		if err != nil {
			// Leader telemetry loss is not fatal; skip this sample.
			c.log("leader read error: %v", err)
			return
		}
		if len(stale) > 0 {
			c.logger.Debug("leader telemetry has stale joints", "motors", stale)
		}
		if c.filter != nil {
			pose = c.filter.Apply(pose)
		}
		c.publish(Output{Name: OutputLeaderTelemetry, Pose: pose, Time: now})
		c.command(ctx, pose, false)
		return
	}

	if c.pending != nil {
		cmd := *c.pending
		c.pending = nil
		c.command(ctx, cmd, false)
	}
}

// command runs one leader pose through mapping and the safety monitor and
// writes the resulting target when the verdict is Execute.
func (c *Controller) command(ctx context.Context, leaderPose robot.Pose, manual bool) {
	if !manual && c.manualCooldown > 0 {
		// A manual override owns the arm for the cooldown window.
		return
	}
	if c.monitor.Latched() {
		c.log("command rejected: %v", ErrEmergencyLatched)
		return
	}

	now := time.Now()
	if !manual && !c.monitor.RateOpen(now) {
		c.stash(leaderPose)
		return
	}

	current, _, err := c.follower.ReadPose(ctx)
	if err != nil {
		c.log("follower read failed, command dropped: %v", err)
		return
	}

	// The first command is gated by the alignment check alone; divergence
	// classification starts with the first executed command.
	if !c.session.FirstCommandSeen {
		if err := c.strategy.Begin(&c.session, leaderPose, current); err != nil {
			var ae *AlignmentError
			if errors.As(err, &ae) {
				c.log("%v", ae)
				return
			}
			c.log("mapping init failed: %v", err)
			return
		}
		c.session.FirstCommandSeen = true
		c.log("teleoperation engaged")
	}

	target, err := c.strategy.Target(&c.session, leaderPose, current)
	if err != nil {
		c.log("mapping failed, command dropped: %v", err)
		return
	}

	var d Decision
	if manual {
		d = c.monitor.CheckManual(current, target, now)
	} else {
		d = c.monitor.Check(current, target, now)
	}

	switch d.Action {
	case ActionExecute:
		if d.Divergence != nil {
			c.log("warning: joint %d diverges by %.1f %s",
				d.Divergence.Joint+1, d.Divergence.Max, current.Unit)
		}
		if err := c.follower.WritePose(ctx, target); err != nil {
			c.log("write failed, command dropped: %v", err)
		}
	case ActionDrop:
		// Rate-limited commands were stashed before the check; a drop here
		// means the command itself is unusable and retrying it is pointless.
		c.log("command dropped: %s", d.Reason)
	case ActionReject:
		if d.Tripped {
			report := EmergencyReport(*d.Divergence, current, target)
			c.logger.Error("emergency stop latched",
				"joint", d.Divergence.Joint+1,
				"divergence", d.Divergence.Max,
				"report", report)
			c.log("EMERGENCY STOP: joint %d diverged %.1f %s; restart required",
				d.Divergence.Joint+1, d.Divergence.Max, current.Unit)
		} else {
			c.log("command rejected: %v", ErrEmergencyLatched)
		}
	}
}

// stash coalesces a command that could not be forwarded yet. Only the most
// recent one is kept.
func (c *Controller) stash(pose robot.Pose) {
	p := pose.Clone()
	c.pending = &p
}

func (c *Controller) publish(out Output) {
	select {
	case c.outCh <- out:
	default:
		// Drop the oldest sample if the consumer is behind.
		select {
		case <-c.outCh:
		default:
		}
		c.outCh <- out
	}
}

// shutdown sends one best-effort holding command and drops follower
// torque. Bus release happens in Close, which callers run unconditionally.
func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	ctx := context.Background()
	// Hold the current pose so the arm does not chase a stale target.
	if current, _, err := c.follower.ReadPose(ctx); err == nil {
		if err := c.follower.WritePose(ctx, current); err != nil {
			c.log("warning: holding command failed: %v", err)
		}
	}
	if err := c.follower.DisableTorque(ctx); err != nil {
		c.log("warning: failed to disable follower torque: %v", err)
	} else {
		c.log("follower arm: torque disabled")
	}
	c.log("teleoperation stopped")
}
