package teleop

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gwillem/armctl/pkg/robot"
)

// fakeTeleopBus is an in-memory bus for control loop tests. Positions are
// static by default so the tests control divergence; track makes writes
// move the arm like a real servo would.
type fakeTeleopBus struct {
	positions map[int]int
	writes    []map[int]int
	track     bool
	writable  bool
	torqueOn  bool
	closed    bool
}

func newFakeTeleopBus(positions map[int]int) *fakeTeleopBus {
	return &fakeTeleopBus{positions: positions, writable: true}
}

func (b *fakeTeleopBus) Connect(ctx context.Context) error { return nil }
func (b *fakeTeleopBus) Writable() bool                    { return b.writable }

func (b *fakeTeleopBus) Close() error {
	b.closed = true
	return nil
}

func (b *fakeTeleopBus) ReadPositions(ctx context.Context, ids []int) (map[int]int, error) {
	if b.closed {
		return nil, errors.New("bus closed")
	}
	out := make(map[int]int, len(ids))
	for _, id := range ids {
		out[id] = b.positions[id]
	}
	return out, nil
}

func (b *fakeTeleopBus) WritePositions(ctx context.Context, positions map[int]int) error {
	if b.closed {
		return errors.New("bus closed")
	}
	snapshot := make(map[int]int, len(positions))
	for id, pos := range positions {
		snapshot[id] = pos
		if b.track {
			b.positions[id] = pos
		}
	}
	b.writes = append(b.writes, snapshot)
	return nil
}

func (b *fakeTeleopBus) EnableTorque(ctx context.Context) error {
	if b.closed {
		return errors.New("bus closed")
	}
	b.torqueOn = true
	return nil
}

func (b *fakeTeleopBus) DisableTorque(ctx context.Context) error {
	if b.closed {
		return errors.New("bus closed")
	}
	b.torqueOn = false
	return nil
}

// A 0..2700 raw range over 270 degrees makes raw = 10x degrees.
func controllerCalibration() robot.Calibration {
	return robot.Calibration{
		robot.ShoulderPan:  {ID: 1, RangeMin: 0, RangeMax: 2700},
		robot.ShoulderLift: {ID: 2, RangeMin: 0, RangeMax: 2700},
		robot.ElbowFlex:    {ID: 3, RangeMin: 0, RangeMax: 2700},
	}
}

func newTestArm(t *testing.T, bus robot.Bus) *robot.Arm {
	t.Helper()
	arm, err := robot.NewArm(bus, controllerCalibration(), robot.Degrees)
	if err != nil {
		t.Fatal(err)
	}
	return arm
}

func testTeleopConfig() Config {
	return Config{
		Teleop: robot.TeleopConfig{
			Strategy:          robot.StrategyDirect,
			WarningMillideg:   60000,
			EmergencyMillideg: 80000,
			MinIntervalMs:     33,
			Hz:                30,
		},
	}
}

// openRateWindow backdates the monitor so the next command is not
// rate-limited, without sleeping through the real interval.
func openRateWindow(c *Controller) {
	c.monitor.lastCommand = time.Now().Add(-time.Second)
}

func TestController_RequiresWritableFollower(t *testing.T) {
	bus := newFakeTeleopBus(map[int]int{})
	bus.writable = false
	follower := newTestArm(t, bus)

	if _, err := NewController(nil, follower, testTeleopConfig()); err == nil {
		t.Error("NewController should reject a read-only follower")
	}

	if _, err := NewController(nil, nil, testTeleopConfig()); err == nil {
		t.Error("NewController should reject a nil follower")
	}
}

func TestController_TickPublishesFollowerPose(t *testing.T) {
	bus := newFakeTeleopBus(map[int]int{1: 0, 2: 1350, 3: 2700})
	ctrl, err := NewController(nil, newTestArm(t, bus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctrl.tick(context.Background())

	select {
	case out := <-ctrl.Outputs():
		if out.Name != OutputFollowerPose {
			t.Errorf("output name = %s, want %s", out.Name, OutputFollowerPose)
		}
		want := []float64{0, 135, 270}
		for i, v := range out.Pose.Values {
			if v != want[i] {
				t.Errorf("joint %d = %f, want %f", i, v, want[i])
			}
		}
	default:
		t.Fatal("tick published nothing")
	}
}

func TestController_LeaderCommandFlow(t *testing.T) {
	leaderBus := newFakeTeleopBus(map[int]int{1: 100, 2: 200, 3: 300})
	followerBus := newFakeTeleopBus(map[int]int{1: 100, 2: 200, 3: 300})
	ctrl, err := NewController(newTestArm(t, leaderBus), newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctrl.tick(context.Background())

	if len(followerBus.writes) != 1 {
		t.Fatalf("got %d follower writes, want 1", len(followerBus.writes))
	}
	for id, want := range map[int]int{1: 100, 2: 200, 3: 300} {
		if followerBus.writes[0][id] != want {
			t.Errorf("motor %d written as %d, want %d", id, followerBus.writes[0][id], want)
		}
	}

	// Both follower telemetry and leader telemetry were published.
	names := map[string]bool{}
	for len(ctrl.Outputs()) > 0 {
		names[(<-ctrl.Outputs()).Name] = true
	}
	if !names[OutputFollowerPose] || !names[OutputLeaderTelemetry] {
		t.Errorf("published outputs %v, want follower and leader telemetry", names)
	}
}

func TestController_FirstCommandMisaligned(t *testing.T) {
	// Leader 70 degrees away from the follower: the first command must be
	// dropped, not executed.
	leaderBus := newFakeTeleopBus(map[int]int{1: 700, 2: 0, 3: 0})
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	ctrl, err := NewController(newTestArm(t, leaderBus), newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctrl.tick(context.Background())

	if len(followerBus.writes) != 0 {
		t.Fatalf("misaligned first command produced %d writes", len(followerBus.writes))
	}
	if ctrl.session.FirstCommandSeen {
		t.Error("session must not engage on a dropped first command")
	}

	// Once the leader moves into alignment, teleoperation engages.
	leaderBus.positions[1] = 100
	openRateWindow(ctrl)
	ctrl.tick(context.Background())
	if len(followerBus.writes) != 1 {
		t.Fatalf("aligned command produced %d writes, want 1", len(followerBus.writes))
	}
	if !ctrl.session.FirstCommandSeen {
		t.Error("session should engage on the first executed command")
	}
}

func TestController_BurstCoalescing(t *testing.T) {
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	followerBus.track = true
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// First command in the burst goes through.
	ctrl.command(ctx, pose(1, 0, 0), false)
	if len(followerBus.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(followerBus.writes))
	}

	// The rest of the burst lands inside the rate window and coalesces.
	ctrl.command(ctx, pose(2, 0, 0), false)
	ctrl.command(ctx, pose(3, 0, 0), false)
	if len(followerBus.writes) != 1 {
		t.Fatalf("rate-limited burst wrote %d times, want 1", len(followerBus.writes))
	}
	if ctrl.pending == nil || ctrl.pending.Values[0] != 3 {
		t.Fatalf("pending = %+v, want the most recent command", ctrl.pending)
	}

	// The next tick forwards exactly the most recent command.
	openRateWindow(ctrl)
	ctrl.tick(ctx)
	if len(followerBus.writes) != 2 {
		t.Fatalf("got %d writes after flush, want 2", len(followerBus.writes))
	}
	if followerBus.writes[1][1] != 30 {
		t.Errorf("flushed write = %d, want 30 (3 degrees)", followerBus.writes[1][1])
	}
	if ctrl.pending != nil {
		t.Error("pending should be cleared after the flush")
	}
}

func TestController_EmergencyStop(t *testing.T) {
	// Positions are static: the follower never moves, so a big leader jump
	// diverges past the emergency threshold.
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ctrl.command(ctx, pose(0, 0, 0), false)
	if len(followerBus.writes) != 1 {
		t.Fatalf("aligned first command should execute, got %d writes", len(followerBus.writes))
	}

	// 85 degrees of divergence: latch trips, nothing is written.
	openRateWindow(ctrl)
	ctrl.command(ctx, pose(85, 0, 0), false)
	if len(followerBus.writes) != 1 {
		t.Fatalf("emergency command must not be written, got %d writes", len(followerBus.writes))
	}
	if !ctrl.Latched() {
		t.Fatal("controller should be latched")
	}

	// A safe command afterwards is still rejected.
	openRateWindow(ctrl)
	ctrl.command(ctx, pose(0, 0, 0), false)
	if len(followerBus.writes) != 1 {
		t.Errorf("latched controller wrote a command, got %d writes", len(followerBus.writes))
	}
}

func TestController_ManualCooldown(t *testing.T) {
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	followerBus.track = true
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ctrl.handle(ctx, Event{Kind: EventManualCommand, Pose: pose(10, 0, 0)})
	if len(followerBus.writes) != 1 {
		t.Fatalf("manual command should execute, got %d writes", len(followerBus.writes))
	}
	if ctrl.manualCooldown != ManualCooldownTicks {
		t.Fatalf("cooldown = %d, want %d", ctrl.manualCooldown, ManualCooldownTicks)
	}

	// Ordinary commands are suppressed during the cooldown, not stashed.
	openRateWindow(ctrl)
	ctrl.handle(ctx, Event{Kind: EventCommand, Pose: pose(20, 0, 0)})
	if len(followerBus.writes) != 1 {
		t.Errorf("ordinary command during cooldown wrote, got %d writes", len(followerBus.writes))
	}
	if ctrl.pending != nil {
		t.Error("suppressed commands must not be stashed")
	}

	// Ticks count the cooldown down.
	ctrl.handle(ctx, Event{Kind: EventTick})
	if ctrl.manualCooldown != ManualCooldownTicks-1 {
		t.Errorf("cooldown after one tick = %d, want %d", ctrl.manualCooldown, ManualCooldownTicks-1)
	}

	// A second manual command resets the window.
	ctrl.handle(ctx, Event{Kind: EventManualCommand, Pose: pose(15, 0, 0)})
	if ctrl.manualCooldown != ManualCooldownTicks {
		t.Errorf("cooldown after second manual = %d, want %d", ctrl.manualCooldown, ManualCooldownTicks)
	}
}

func TestController_MisalignedFirstCommandDoesNotLatch(t *testing.T) {
	// An 85 degree first command under direct mapping is dropped by the
	// alignment check before divergence classification; the latch only
	// guards commands once teleoperation has engaged.
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctrl.command(context.Background(), pose(85, 0, 0), false)

	if len(followerBus.writes) != 0 {
		t.Fatalf("misaligned first command produced %d writes", len(followerBus.writes))
	}
	if ctrl.Latched() {
		t.Error("misaligned first command must not trip the latch")
	}
	if ctrl.session.FirstCommandSeen {
		t.Error("session must not engage on a dropped first command")
	}
}

func TestController_MismatchedCommandNotStashed(t *testing.T) {
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	followerBus.track = true
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ctrl.command(ctx, pose(0, 0, 0), false)
	if len(followerBus.writes) != 1 {
		t.Fatalf("got %d writes, want 1", len(followerBus.writes))
	}

	// A pose with the wrong joint count is dropped outright: not written,
	// not stashed for retry, and the reason is reported.
	openRateWindow(ctrl)
	ctrl.command(ctx, pose(0, 0), false)
	if len(followerBus.writes) != 1 {
		t.Errorf("mismatched command was written, got %d writes", len(followerBus.writes))
	}
	if ctrl.pending != nil {
		t.Error("mismatched command must not be stashed")
	}

	logged := false
	for len(ctrl.Logs()) > 0 {
		if strings.Contains(<-ctrl.Logs(), "dropped") {
			logged = true
		}
	}
	if !logged {
		t.Error("the drop was not reported")
	}
}

func TestController_CancelThenClose(t *testing.T) {
	// Quitting cancels the loop first; the safe shutdown (holding command,
	// torque off) must complete before the bus closes.
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	followerBus.track = true
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- ctrl.Start(ctx, nil)
	}()

	// Let setup enable torque before quitting.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-loopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if followerBus.closed {
		t.Fatal("bus closed before Close was called")
	}
	if followerBus.torqueOn {
		t.Error("shutdown did not disable torque before the bus closed")
	}
	if len(followerBus.writes) == 0 {
		t.Error("shutdown did not issue a holding command")
	}

	if err := ctrl.Close(); err != nil {
		t.Fatal(err)
	}
	if !followerBus.closed {
		t.Error("Close did not close the bus")
	}
}

func TestController_SafeHome(t *testing.T) {
	followerBus := newFakeTeleopBus(map[int]int{1: 900, 2: 900, 3: 900})
	followerBus.track = true

	cfg := testTeleopConfig()
	home := pose(0, 13.5, 27)
	cfg.SafeHome = &home

	ctrl, err := NewController(nil, newTestArm(t, followerBus), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := ctrl.setup(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !followerBus.torqueOn {
		t.Error("setup should enable follower torque")
	}
	if len(followerBus.writes) != 1 {
		t.Fatalf("got %d writes, want the safe home move", len(followerBus.writes))
	}
	want := map[int]int{1: 0, 2: 135, 3: 270}
	for id, raw := range want {
		if followerBus.writes[0][id] != raw {
			t.Errorf("motor %d = %d, want %d", id, followerBus.writes[0][id], raw)
		}
	}
}

func TestController_StartStop(t *testing.T) {
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}

	events := make(chan Event)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ctrl.Start(context.Background(), events)
	}()

	// Drain outputs so the loop never stalls on a full channel.
	done := make(chan struct{})
	go func() {
		for range ctrl.Outputs() {
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	defer close(done)

	events <- Event{Kind: EventStop}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned %v, want nil on stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after the stop event")
	}

	if followerBus.torqueOn {
		t.Error("follower torque should be off after shutdown")
	}
}

func TestController_StartTwice(t *testing.T) {
	followerBus := newFakeTeleopBus(map[int]int{1: 0, 2: 0, 3: 0})
	ctrl, err := NewController(nil, newTestArm(t, followerBus), testTeleopConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event)
	go ctrl.Start(ctx, events)
	defer cancel()

	// Give the first loop time to mark itself running.
	time.Sleep(50 * time.Millisecond)
	if err := ctrl.Start(ctx, events); err == nil {
		t.Error("second Start should fail while the loop is running")
	}
}
