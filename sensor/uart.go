package sensor

import (
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"

	"github.com/homesense/sensord/internal/types"
)

var uartBauds = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// UARTSource reads raw bytes from a serial device. The fd is opened
// non-blocking with VMIN=0 VTIME=0: Poll returns whatever the kernel
// has buffered, possibly nothing, and never waits.
type UARTSource struct {
	path string
	buf  []byte
	fd   int
}

func NewUART(path string, baud int) (*UARTSource, error) {
	speed, ok := uartBauds[baud]
	if !ok {
		return nil, errors.NotValidf("uart %s: unsupported baud=%d", path, baud)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0600)
	if err != nil {
		return nil, errors.Annotatef(err, "uart open %s", path)
	}

	t := unix.Termios{
		Iflag:  unix.IGNBRK,
		Cflag:  unix.CLOCAL | unix.CREAD | unix.CS8 | speed,
		Ispeed: speed,
		Ospeed: speed,
	}
	// VMIN=0 VTIME=0, read returns immediately
	if err = unix.IoctlSetTermios(fd, unix.TCSETSF, &t); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Annotatef(err, "uart termios %s", path)
	}

	return &UARTSource{
		path: path,
		fd:   fd,
		buf:  make([]byte, 256),
	}, nil
}

func (u *UARTSource) Poll(now time.Time) (types.RawSample, bool, error) {
	n, err := unix.Read(u.fd, u.buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return types.RawSample{}, false, nil
		}
		return types.RawSample{}, false, errors.Annotatef(err, "uart read %s", u.path)
	}
	if n <= 0 {
		return types.RawSample{}, false, nil
	}
	bs := make([]byte, n)
	copy(bs, u.buf[:n])
	return types.RawSample{
		Kind:  types.TransportStream,
		Stamp: now,
		Bytes: bs,
	}, true, nil
}

func (u *UARTSource) Close() error {
	if u.fd < 0 {
		return nil
	}
	err := unix.Close(u.fd)
	u.fd = -1
	return err
}

func (u *UARTSource) String() string { return "uart:" + u.path }
