// Package armctl provides leader/follower teleoperation for robot arms
// over heterogeneous servo buses.
//
// A passive leader arm is sampled on a fixed tick, its pose is converted
// through a per-joint calibration model into physical units, mapped onto a
// follower target pose, checked against divergence and rate limits, and
// written back out as raw servo commands.
//
// # Usage
//
// First, scan for connected arms and save a configuration:
//
//	armctl scan
//
// Then start teleoperation:
//
//	armctl teleoperate
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/armctl: CLI with scan and teleoperate commands
//   - pkg/robot: calibration model, motor buses, arm and configuration
//   - pkg/teleop: pose mapping, safety monitor and the control loop
package armctl
