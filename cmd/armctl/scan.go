package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/armctl/pkg/robot"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type ScanCommand struct {
	Motors int `long:"motors" default:"6" description:"Number of servos per arm"`
}

func (c *ScanCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("armctl Scan"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━"))
	fmt.Println()

	arms := findArms(c.Motors)

	if len(arms) == 0 {
		fmt.Println("No arms found.")
		fmt.Println("Make sure your arms are connected and powered on.")
		os.Exit(1)
	}

	fmt.Printf("Found %d arm(s). Let's identify them...\n\n", len(arms))

	// Identify each arm by wiggling it
	var leaderPort, followerPort string

	for _, arm := range arms {
		role := identifyArmWithWiggle(arm)
		switch role {
		case "leader":
			leaderPort = arm.port
		case "follower":
			followerPort = arm.port
		}

		// If we have both, we can stop
		if leaderPort != "" && followerPort != "" {
			break
		}
	}

	fmt.Println()

	if leaderPort == "" || followerPort == "" {
		fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
		if leaderPort == "" {
			fmt.Println("Leader arm not identified.")
		}
		if followerPort == "" {
			fmt.Println("Follower arm not identified.")
		}
		fmt.Println()
		fmt.Println("Both leader and follower are required for teleoperation.")
		os.Exit(1)
	}

	config := robot.Config{
		Leader: robot.ArmConfig{
			Port:            leaderPort,
			Protocol:        robot.ProtocolFeetech,
			CalibrationFile: "calibration/leader.json",
		},
		Follower: robot.ArmConfig{
			Port:            followerPort,
			Protocol:        robot.ProtocolFeetech,
			CalibrationFile: "calibration/follower.json",
		},
	}

	if err := config.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println("Configuration:")
	fmt.Printf("  Leader:   %s\n", leaderPort)
	fmt.Printf("  Follower: %s\n", followerPort)
	fmt.Println()
	fmt.Println(successStyle.Render("Configuration saved to " + robot.DefaultConfigFile))
	fmt.Println()
	fmt.Println("Place calibration files next to it, then start teleoperation with:")
	fmt.Println("  " + headerStyle.Render("armctl teleoperate"))

	return nil
}

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func findArms(motors int) []armInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var arms []armInfo

	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

		bus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: 1_000_000,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			cancel()
			continue
		}

		servos, err := bus.Scan(ctx, 1, motors)
		cancel()

		if err != nil {
			bus.Close()
			continue
		}

		if isArm(servos, motors) {
			fmt.Printf("  Found %d-servo arm on %s\n", motors, port)
			arms = append(arms, armInfo{
				port:   port,
				servos: servos,
				bus:    bus,
			})
		} else {
			bus.Close()
		}
	}

	return arms
}

// isArm checks for a contiguous servo chain with IDs 1..motors.
func isArm(servos []feetech.FoundServo, motors int) bool {
	if len(servos) != motors {
		return false
	}

	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}

	for i := 1; i <= motors; i++ {
		if !ids[i] {
			return false
		}
	}

	return true
}

func identifyArmWithWiggle(arm armInfo) string {
	defer arm.bus.Close()

	ctx := context.Background()

	// Find servo ID 1 for wiggling
	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == 1 {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}

	if servo == nil {
		return ""
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return ""
	}

	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return ""
	}

	fmt.Printf("\n  ⟳ Wiggling arm on %s...\n", arm.port)

	wiggleAmount := 100
	for i := 0; i < 3; i++ {
		servo.SetPosition(ctx, originalPos+wiggleAmount)
		time.Sleep(150 * time.Millisecond)
		servo.SetPosition(ctx, originalPos-wiggleAmount)
		time.Sleep(150 * time.Millisecond)
	}

	servo.SetPosition(ctx, originalPos)
	time.Sleep(100 * time.Millisecond)

	servo.Disable(ctx)

	var role string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Which arm is on %s?", arm.port)).
				Description("The arm that just wiggled").
				Options(
					huh.NewOption("Leader (the one you move by hand)", "leader"),
					huh.NewOption("Follower (the one that follows)", "follower"),
					huh.NewOption("Skip this arm", "skip"),
				).
				Value(&role),
		),
	)

	if err := form.Run(); err != nil {
		return ""
	}

	if role == "skip" {
		return ""
	}

	return role
}
