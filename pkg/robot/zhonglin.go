package robot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Zhonglin ZP10D protocol constants. Each read is a fixed-format ASCII
// command answered by a line containing a four-digit PWM value.
const (
	zhonglinBaudRate     = 115200
	zhonglinSettle       = 15 * time.Millisecond
	zhonglinRetryDelay   = 10 * time.Millisecond
	zhonglinReadAttempts = 3
	zhonglinReadTimeout  = 100 * time.Millisecond
)

var zhonglinResponse = regexp.MustCompile(`P(\d{4})`)

// ZhonglinBus drives Zhonglin ASCII protocol servo controllers over a
// line-oriented serial channel, one request/response exchange per motor.
//
// The hardware behind this protocol is a passive leader arm: the bus is
// read-only and WritePositions fails with ErrReadOnlyBus.
type ZhonglinBus struct {
	portName string
	baudRate int
	ids      []int

	// openPort is swapped out in tests; serial.Port is an interface.
	openPort func(string, *serial.Mode) (serial.Port, error)
	port     serial.Port
}

// NewZhonglinBus creates a bus for the motors with the given servo IDs.
// The connection is not opened until Connect.
func NewZhonglinBus(portName string, ids []int) *ZhonglinBus {
	return &ZhonglinBus{
		portName: portName,
		baudRate: zhonglinBaudRate,
		ids:      ids,
		openPort: serial.Open,
	}
}

// Connect opens the serial port and probes every motor once.
func (b *ZhonglinBus) Connect(ctx context.Context) error {
	port, err := b.openPort(b.portName, &serial.Mode{BaudRate: b.baudRate})
	if err != nil {
		return &BusError{Op: "connect", Err: err}
	}
	if err := port.SetReadTimeout(zhonglinReadTimeout); err != nil {
		port.Close()
		return &BusError{Op: "connect", Err: err}
	}
	b.port = port
	return b.initServos(ctx)
}

// initServos issues the controller handshake and a test read per motor.
// An unreadable motor is not fatal here; it will read as stale later.
func (b *ZhonglinBus) initServos(ctx context.Context) error {
	b.sendCommand("#000PVER!")
	for _, id := range b.ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.sendCommand("#000PCSK!")
		b.sendCommand(fmt.Sprintf("#%03dPULK!", id))
		if _, ok := b.readPWM(id); !ok {
			// Probed but silent; ReadPositions will keep retrying.
			continue
		}
	}
	return nil
}

// Close releases the serial port. Safe to call more than once.
func (b *ZhonglinBus) Close() error {
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}

// Writable reports false: Zhonglin leader arms are passive.
func (b *ZhonglinBus) Writable() bool { return false }

// ReadPositions reads the raw PWM position of each requested motor.
// Motors that fail all read attempts are left out of the result.
func (b *ZhonglinBus) ReadPositions(ctx context.Context, ids []int) (map[int]int, error) {
	if b.port == nil {
		return nil, &BusError{Op: "read", Err: ErrNotConnected}
	}
	positions := make(map[int]int, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return positions, err
		}
		if pwm, ok := b.readPWM(id); ok {
			positions[id] = pwm
		}
	}
	return positions, nil
}

// WritePositions always fails: the protocol is used for read-only leaders.
func (b *ZhonglinBus) WritePositions(ctx context.Context, positions map[int]int) error {
	return &BusError{Op: "write", Err: ErrReadOnlyBus}
}

// readPWM performs one position read exchange, with retries. ok is false
// when the motor produced no parseable answer within the retry budget; the
// caller treats that as a stale reading, never as fatal.
func (b *ZhonglinBus) readPWM(id int) (int, bool) {
	resp, ok := b.sendCommand(fmt.Sprintf("#%03dPRAD!", id))
	if !ok {
		return 0, false
	}
	m := zhonglinResponse.FindStringSubmatch(resp)
	if m == nil {
		return 0, false
	}
	pwm, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return pwm, true
}

// sendCommand writes one command and collects the response bytes after the
// protocol settle time. Up to zhonglinReadAttempts attempts are made, with
// a short pause between them, so a single bad exchange never blocks the
// control loop for long.
func (b *ZhonglinBus) sendCommand(cmd string) (string, bool) {
	if b.port == nil {
		return "", false
	}
	for attempt := 0; attempt < zhonglinReadAttempts; attempt++ {
		b.port.ResetInputBuffer()
		if _, err := b.port.Write([]byte(cmd)); err != nil {
			return "", false
		}
		time.Sleep(zhonglinSettle)

		resp := b.readAvailable()
		if strings.Contains(resp, "P") {
			return resp, true
		}
		if attempt < zhonglinReadAttempts-1 {
			time.Sleep(zhonglinRetryDelay)
		}
	}
	return "", false
}

// readAvailable drains whatever the controller buffered during the settle
// time. The read timeout set at Connect bounds each Read call.
func (b *ZhonglinBus) readAvailable() string {
	var out []byte
	buf := make([]byte, 64)
	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil || n == 0 || len(out) >= 256 {
			return string(out)
		}
		if strings.Contains(string(out), "!") {
			return string(out)
		}
	}
}
