package thorlabs

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/filtercam/wheel"
)

// fakeWheel speaks the FW102C ASCII protocol over TCP
type fakeWheel struct {
	sync.Mutex
	ln    net.Listener
	pos   int
	count int
	cmds  []string
}

func newFakeWheel(t *testing.T) *fakeWheel {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	fw := &fakeWheel{ln: ln, pos: 1, count: 6}
	go fw.serve()
	t.Cleanup(func() { ln.Close() })
	return fw
}

func (fw *fakeWheel) serve() {
	for {
		conn, err := fw.ln.Accept()
		if err != nil {
			return
		}
		go fw.handle(conn)
	}
}

func (fw *fakeWheel) handle(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadString('\r')
		if err != nil {
			return
		}
		cmd := strings.TrimSuffix(line, "\r")
		fw.Lock()
		fw.cmds = append(fw.cmds, cmd)
		var data string
		switch {
		case cmd == "pos?":
			data = strconv.Itoa(fw.pos) + "\r"
		case cmd == "pcount?":
			data = strconv.Itoa(fw.count) + "\r"
		case strings.HasPrefix(cmd, "pos="):
			n, err := strconv.Atoi(strings.TrimPrefix(cmd, "pos="))
			if err != nil || n < 1 || n > fw.count {
				data = "Command error CMD_ARG_INVALID\r"
			} else {
				fw.pos = n
			}
		default:
			data = "Command error CMD_NOT_DEFINED\r"
		}
		fw.Unlock()
		fmt.Fprintf(conn, "%s\r%s> ", cmd, data)
	}
}

func TestFW102CRotateAndQuery(t *testing.T) {
	fake := newFakeWheel(t)
	w := NewFW102C(fake.ln.Addr().String(), false, map[string]int{"Red": 2, "Green": 3, "Blue": 4})
	w.Poll = time.Millisecond

	if !w.MustRotate("Blue") {
		t.Error("wheel starts at slot 1, Blue should require rotation")
	}
	if err := w.RotateTo("Blue"); err != nil {
		t.Fatal(err)
	}
	cur, err := w.CurrentFilter()
	if err != nil {
		t.Fatal(err)
	}
	if cur != "Blue" {
		t.Errorf("expected Blue in the beam, got %s", cur)
	}
	if w.MustRotate("Blue") {
		t.Error("Blue is in the beam, no rotation needed")
	}
	n, err := w.SlotCount()
	if err != nil || n != 6 {
		t.Errorf("expected 6 slots, got %d (%v)", n, err)
	}
}

func TestFW102CUnmappedSlot(t *testing.T) {
	fake := newFakeWheel(t)
	w := NewFW102C(fake.ln.Addr().String(), false, map[string]int{"Red": 2})
	cur, err := w.CurrentFilter()
	if err != nil {
		t.Fatal(err)
	}
	if cur != "slot 1" {
		t.Errorf("expected unmapped slot to be reported by number, got %q", cur)
	}
}

func TestFW102CErrors(t *testing.T) {
	fake := newFakeWheel(t)
	w := NewFW102C(fake.ln.Addr().String(), false, map[string]int{"Bogus": 9})
	var fwe FWError
	if err := w.RotateTo("Bogus"); !errors.As(err, &fwe) {
		t.Errorf("expected FWError for an out of range slot, got %v", err)
	}
	var unk wheel.ErrUnknownFilter
	if err := w.RotateTo("Nope"); !errors.As(err, &unk) {
		t.Errorf("expected ErrUnknownFilter, got %v", err)
	}
}

func TestNewFW102CSerial(t *testing.T) {
	w := NewFW102C("/dev/ttyUSB3", true, map[string]int{"Red": 1})
	if !w.IsSerial {
		t.Error("expected a serial device")
	}
	if w.SerialConf == nil {
		t.Fatal("expected a serial config")
	}
	if w.SerialConf.Name != "/dev/ttyUSB3" || w.SerialConf.Baud != 115200 {
		t.Errorf("unexpected serial config %+v", *w.SerialConf)
	}
	w = NewFW102C("127.0.0.1:1", false, nil)
	if w.IsSerial || w.SerialConf != nil {
		t.Error("expected a TCP device without a serial config")
	}
}
