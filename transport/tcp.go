package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"time"
)

// DialTCP connects to the bus at the given TCP address
// ("host:port"). TCP transports carry no encryption, and DialTCP
// authenticates with the ANONYMOUS mechanism only.
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	ret := &tcpTransport{conn: conn}
	ret.buf = bufio.NewReader(conn)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := ret.conn.SetDeadline(deadline); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.auth(); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.conn.SetDeadline(time.Time{}); err != nil {
		ret.Close()
		return nil, err
	}

	return ret, nil
}

// tcpTransport is a Transport that runs over a plain TCP connection.
// It cannot pass file descriptors: GetFiles always fails and
// WriteWithFiles refuses to send any.
type tcpTransport struct {
	conn net.Conn
	buf  *bufio.Reader
}

func (t *tcpTransport) Read(bs []byte) (int, error) {
	return t.buf.Read(bs)
}

func (t *tcpTransport) Write(bs []byte) (int, error) {
	return t.conn.Write(bs)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) WriteWithFiles(bs []byte, fds []*os.File) (int, error) {
	if len(fds) != 0 {
		return 0, errors.New("cannot send file descriptors over a TCP dbus transport")
	}
	return t.Write(bs)
}

func (t *tcpTransport) GetFiles(n int) ([]*os.File, error) {
	if n == 0 {
		return nil, nil
	}
	return nil, errors.New("cannot receive file descriptors over a TCP dbus transport")
}

func (t *tcpTransport) auth() error {
	mechs := []authMechanism{
		newAnonymousAuth("go-dbus"),
	}
	_, err := runAuth(t.conn, t.buf, mechs, false)
	return err
}
