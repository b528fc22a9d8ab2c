/*Package comm provides an embeddable type for talking to ASCII lab hardware
over a serial port or a TCP socket (e.g. a port on a terminal server).

Most usages of this package will boil down to:
	1.  embed RemoteDevice in a type that represents your hardware.
	2.  set the terminators if the default carriage returns are not right.
	3.  if IsSerial, populate SerialConf.
	4.  write methods which Open, SendRecv, and Close.

A minimal example for a wheel that answers "pos?" with its slot:

	type MyWheel struct {
		comm.RemoteDevice
	}

	func (w *MyWheel) Slot() (int, error) {
		err := w.Open()
		if err != nil {
			return 0, err
		}
		defer w.Close()
		resp, err := w.SendRecv([]byte("pos?"))
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(string(resp))
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// CR is a carriage return, the default terminator
	CR = byte('\r')

	defaultTimeout = 3 * time.Second
)

var (
	// ErrNoSerialConf is generated when SerialConf is nil and IsSerial=true
	ErrNoSerialConf = errors.New("SerialConf is nil and IsSerial=true")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// RemoteDevice has an address and can Open, Send, Recv and Close.
// It is not concurrent safe; the embedding type is expected to serialize
// access to the hardware.
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// SerialConf is used to open the port when IsSerial is true
	SerialConf *serial.Config

	// TxTerm and RxTerm are the transmit and receive terminators
	TxTerm, RxTerm byte

	// Timeout bounds connection and, for TCP, each exchange
	Timeout time.Duration

	rd *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice with carriage return terminators
func NewRemoteDevice(addr string, isSerial bool, conf *serial.Config) RemoteDevice {
	if conf != nil && conf.Name == "" {
		conf.Name = addr
	}
	return RemoteDevice{
		Addr:       addr,
		IsSerial:   isSerial,
		SerialConf: conf,
		TxTerm:     CR,
		RxTerm:     CR,
		Timeout:    defaultTimeout}
}

// Open the connection, setting the Conn variable.
// Opening is retried with an exponential backoff for up to the timeout,
// unless the remote refuses the connection.
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	timeout := rd.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	op := func() error {
		err := rd.open(timeout)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "refused") {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open(timeout time.Duration) error {
	var (
		err  error
		conn io.ReadWriteCloser
	)
	if rd.IsSerial {
		if rd.SerialConf == nil {
			return backoff.Permanent(ErrNoSerialConf)
		}
		conn, err = serial.OpenPort(rd.SerialConf)
	} else {
		conn, err = TCPSetup(rd.Addr, timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rd = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rd = nil
	return err
}

// Send writes data to the remote, appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, rd.TxTerm)
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := rd.rd.ReadBytes(rd.RxTerm)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimSuffix(buf, []byte{rd.RxTerm}), nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	err := rd.Send(b)
	if err != nil {
		return nil, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
