// Package thorlabs contains a driver for the Thorlabs FW102C / FW212C
// motorized filter wheels
package thorlabs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nasa-jpl/filtercam/comm"
	"github.com/nasa-jpl/filtercam/wheel"
	"github.com/tarm/serial"
)

/* the wheel echoes every command, then replies with zero or one lines of
data, then a "> " prompt:

	pos?\r3\r>
	pos=4\r>

we read up to the prompt and discard the echo.  Errors are reported in place
of data as e.g. "Command error CMD_ARG_INVALID".
*/

const (
	prompt = byte('>')

	// DefaultSettle is the longest RotateTo waits for the wheel to arrive.
	// a 12 slot wheel at low speed takes about 6 s for half a turn
	DefaultSettle = 10 * time.Second
)

// FWError is an error reported by the filter wheel
type FWError struct {
	Cmd  string
	Resp string
}

// Error satisfies stdlib error interface
func (e FWError) Error() string {
	return fmt.Sprintf("FW102C: command %q failed: %s", e.Cmd, e.Resp)
}

// MakeSerConf makes a new serial config for the wheel's USB virtual COM port
func MakeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// FW102C is a filter wheel.  Filters are addressed by name through a
// name => slot (1-based) map.  It is concurrent safe.
type FW102C struct {
	sync.Mutex
	comm.RemoteDevice

	slots map[string]int

	// Settle bounds how long RotateTo polls for arrival
	Settle time.Duration

	// Poll is the interval between position queries while moving
	Poll time.Duration
}

// NewFW102C creates a new FW102C at addr, a serial port or host:port
func NewFW102C(addr string, isSerial bool, slots map[string]int) *FW102C {
	var conf *serial.Config
	if isSerial {
		conf = MakeSerConf(addr)
	}
	rd := comm.NewRemoteDevice(addr, isSerial, conf)
	rd.RxTerm = prompt
	cpy := make(map[string]int, len(slots))
	for k, v := range slots {
		cpy[k] = v
	}
	return &FW102C{
		RemoteDevice: rd,
		slots:        cpy,
		Settle:       DefaultSettle,
		Poll:         50 * time.Millisecond}
}

// exchange sends cmd and returns the data line of the reply, if any.
// the caller must hold the lock.
func (f *FW102C) exchange(cmd string) (string, error) {
	err := f.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	resp, err := f.SendRecv([]byte(cmd))
	if err != nil {
		return "", err
	}
	lines := []string{}
	for _, l := range strings.Split(string(resp), "\r") {
		l = strings.TrimSpace(l)
		if l == "" || l == cmd {
			continue
		}
		lines = append(lines, l)
	}
	if len(lines) == 0 {
		return "", nil
	}
	data := lines[len(lines)-1]
	if strings.Contains(data, "CMD_") || strings.Contains(strings.ToLower(data), "error") {
		return "", FWError{Cmd: cmd, Resp: data}
	}
	return data, nil
}

// Slot queries the slot currently in the beam
func (f *FW102C) Slot() (int, error) {
	f.Lock()
	defer f.Unlock()
	return f.slot()
}

func (f *FW102C) slot() (int, error) {
	resp, err := f.exchange("pos?")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(resp)
	if err != nil {
		return 0, FWError{Cmd: "pos?", Resp: resp}
	}
	return n, nil
}

// SlotCount queries the number of slots in the wheel, 6 or 12
func (f *FW102C) SlotCount() (int, error) {
	f.Lock()
	defer f.Unlock()
	resp, err := f.exchange("pcount?")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// Filters returns the mapped filter names in slot order
func (f *FW102C) Filters() []string {
	out := make([]string, 0, len(f.slots))
	for name := range f.slots {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return f.slots[out[i]] < f.slots[out[j]] })
	return out
}

// CurrentFilter returns the name of the filter in the beam.
// Unmapped slots are returned as "slot N".
func (f *FW102C) CurrentFilter() (string, error) {
	n, err := f.Slot()
	if err != nil {
		return "", err
	}
	for name, s := range f.slots {
		if s == n {
			return name, nil
		}
	}
	return fmt.Sprintf("slot %d", n), nil
}

// MustRotate returns true if target is not in the beam.  If the wheel cannot
// be queried it is assumed to be elsewhere.
func (f *FW102C) MustRotate(target string) bool {
	want, ok := f.slots[target]
	if !ok {
		return true
	}
	n, err := f.Slot()
	return err != nil || n != want
}

// RotateTo commands target into the beam and polls until it arrives
func (f *FW102C) RotateTo(target string) error {
	want, ok := f.slots[target]
	if !ok {
		return wheel.ErrUnknownFilter{Filter: target}
	}
	f.Lock()
	defer f.Unlock()
	cmd := fmt.Sprintf("pos=%d", want)
	_, err := f.exchange(cmd)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(f.Settle)
	for {
		n, err := f.slot()
		if err == nil && n == want {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return err
			}
			return FWError{Cmd: cmd, Resp: fmt.Sprintf("wheel at slot %d after %v", n, f.Settle)}
		}
		time.Sleep(f.Poll)
	}
}
