package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/armctl/internal/log"
	"github.com/gwillem/armctl/pkg/robot"
	"github.com/gwillem/armctl/pkg/teleop"
)

type TeleoperateCommand struct {
	Config   string `long:"config" description:"Config file (default armctl.json)"`
	Hz       int    `long:"hz" description:"Override tick frequency"`
	Strategy string `long:"strategy" choice:"direct" choice:"baseline" description:"Override mapping strategy"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Motor colors - distinct colors for each motor, cycled for larger arms
var motorColors = []string{
	"196", // red
	"208", // orange
	"226", // yellow
	"46",  // green
	"51",  // cyan
	"201", // magenta
	"93",  // purple
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("160"))
)

type teleopModel struct {
	ctrl          *teleop.Controller
	chart         *streamlinechart.Model
	names         []robot.MotorName
	width         int      // terminal width
	height        int      // terminal height
	logs          []string // last N log messages
	quitting      bool
	lastPositions []float64 // track previous positions to detect movement
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any motor position has changed from the last state
func (m *teleopModel) hasMovement(values []float64) bool {
	if m.lastPositions == nil || len(m.lastPositions) != len(values) {
		return true // first reading, consider it movement
	}
	for i, v := range values {
		if v != m.lastPositions[i] {
			return true
		}
	}
	return false
}

// Messages from the controller
type outputMsg teleop.Output
type logMsg string

func waitForOutput(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return outputMsg(<-ctrl.Outputs())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(ctrl *teleop.Controller, unit robot.Unit) teleopModel {
	scale := unit.FullScale()
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-scale, scale),
	)

	names := ctrl.Names()
	for i, name := range names {
		color := motorColors[i%len(motorColors)]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return teleopModel{
		ctrl:  ctrl,
		chart: &chart,
		names: names,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForOutput(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case outputMsg:
		out := teleop.Output(msg)
		// Chart follows the follower; leader telemetry only feeds the logs.
		if out.Name == teleop.OutputFollowerPose {
			if m.hasMovement(out.Pose.Values) {
				for i, v := range out.Pose.Values {
					if i < len(m.names) {
						m.chart.PushDataSet(string(m.names[i]), v)
					}
				}
				m.chart.DrawAll()
				m.lastPositions = append(m.lastPositions[:0], out.Pose.Values...)
			}
		}
		return m, waitForOutput(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("armctl Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.ctrl.Latched() {
		sb.WriteString("  ")
		sb.WriteString(alertStyle.Render(" EMERGENCY STOP - RESTART REQUIRED "))
	}
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m teleopModel) renderLegend() string {
	var items []string
	for i, name := range m.names {
		color := motorColors[i%len(motorColors)]
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
		item := colorStyle.Render("━━") + " " + string(name)
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

// buildArm constructs and connects one arm from its configuration.
func buildArm(ctx context.Context, cfg robot.ArmConfig) (*robot.Arm, error) {
	cal, err := cfg.LoadCalibration()
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	unit, err := robot.ParseUnit(cfg.Unit)
	if err != nil {
		return nil, err
	}
	bus, err := cfg.NewBus(cal)
	if err != nil {
		return nil, err
	}
	arm, err := robot.NewArm(bus, cal, unit)
	if err != nil {
		return nil, err
	}
	if err := arm.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Port, err)
	}
	return arm, nil
}

func (c *TeleoperateCommand) Execute(args []string) error {
	path := c.Config
	if path == "" {
		path = robot.DefaultConfigFile
	}
	cfg, err := robot.LoadConfigFrom(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'armctl scan' first.")
		os.Exit(1)
	}

	if cfg.Leader.Port == "" || cfg.Follower.Port == "" {
		fmt.Fprintln(os.Stderr, "Arms not configured. Run 'armctl scan' first.")
		os.Exit(1)
	}
	if !cfg.Leader.IsCalibrated() || !cfg.Follower.IsCalibrated() {
		fmt.Fprintln(os.Stderr, "Arms not calibrated. Add calibration files to the config.")
		os.Exit(1)
	}

	if c.Hz > 0 {
		cfg.Teleop.Hz = c.Hz
	}
	if c.Strategy != "" {
		cfg.Teleop.Strategy = c.Strategy
	}

	fmt.Printf("Loaded configuration from %s\n", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leader, err := buildArm(ctx, cfg.Leader)
	if err != nil {
		log.L().Error("leader arm failed", "error", err)
		os.Exit(1)
	}

	follower, err := buildArm(ctx, cfg.Follower)
	if err != nil {
		leader.Close()
		log.L().Error("follower arm failed", "error", err)
		os.Exit(1)
	}

	var safeHome *robot.Pose
	if len(cfg.Teleop.SafeHome) > 0 {
		safeHome = &robot.Pose{Unit: follower.Unit(), Values: cfg.Teleop.SafeHome}
	}

	ctrl, err := teleop.NewController(leader, follower, teleop.Config{
		Teleop:         cfg.Teleop,
		FilterAlpha:    teleop.DefaultFilterAlpha,
		SafeHome:       safeHome,
		SafeHomeSettle: 3 * time.Second,
		Logger:         log.L(),
	})
	if err != nil {
		leader.Close()
		follower.Close()
		log.L().Error("failed to create controller", "error", err)
		os.Exit(1)
	}

	loopDone := make(chan error, 1)
	go func() {
		err := ctrl.Start(ctx, nil)
		if err != nil && err != context.Canceled {
			log.L().Error("controller error", "error", err)
		}
		loopDone <- err
	}()

	p := tea.NewProgram(initialTeleopModel(ctrl, follower.Unit()), tea.WithAltScreen())
	_, runErr := p.Run()

	// Stop the loop and let its safe shutdown (holding command, torque off)
	// finish before the buses close.
	cancel()
	select {
	case <-loopDone:
	case <-time.After(5 * time.Second):
		log.L().Warn("control loop did not stop in time")
	}
	if err := ctrl.Close(); err != nil {
		log.L().Error("close failed", "error", err)
	}

	if runErr != nil {
		log.L().Error("error running program", "error", runErr)
		os.Exit(1)
	}

	return nil
}
