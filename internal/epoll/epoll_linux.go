//go:build linux

// Package epoll wraps the Linux epoll(7) and non-blocking socket
// syscalls the reactor needs, translating negative returns into errors
// that preserve the underlying errno.
package epoll

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Flags is the union of readiness kinds a registration cares about.
type Flags uint32

const (
	Readable    Flags = unix.EPOLLIN
	Writable    Flags = unix.EPOLLOUT
	PeerHangup  Flags = unix.EPOLLRDHUP
	Hangup      Flags = unix.EPOLLHUP
	ErrFlag     Flags = unix.EPOLLERR
	EdgeTrigger Flags = unix.EPOLLET
)

// Event is one reported readiness notification. Fd is the kernel file
// descriptor the event concerns; the reactor maintains its own
// fd-to-client-id mapping to translate this into a client-scoped
// readiness event.
type Event struct {
	Fd    int32
	Flags Flags
}

// Poller owns one epoll instance.
type Poller struct {
	fd int
}

// Create opens a new epoll instance.
func Create() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{fd: fd}, nil
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}

// Add registers fd for the given flags.
func (p *Poller) Add(fd int, flags Flags) error {
	ev := unix.EpollEvent{Events: uint32(flags), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl(ADD, %d): %w", fd, err)
	}
	return nil
}

// Mod changes the registered flags for fd.
func (p *Poller) Mod(fd int, flags Flags) error {
	ev := unix.EpollEvent{Events: uint32(flags), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl(MOD, %d): %w", fd, err)
	}
	return nil
}

// Del deregisters fd. ENOENT (already removed, e.g. by an earlier
// close in the same batch) is not an error.
func (p *Poller) Del(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one event is ready or timeoutMs elapses
// (-1 blocks indefinitely), using out as the kernel's event array and
// returning the reported events translated to Event values. EINTR is
// retried internally so callers never see it.
func (p *Poller) Wait(out []unix.EpollEvent, timeoutMs int) ([]Event, error) {
	for {
		n, err := unix.EpollWait(p.fd, out, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		events := make([]Event, n)
		for i := 0; i < n; i++ {
			events[i] = Event{Fd: out[i].Fd, Flags: Flags(out[i].Events)}
		}
		return events, nil
	}
}

// SetNonblock marks fd non-blocking.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// ListenTCP creates a non-blocking, SO_REUSEADDR TCP listening socket
// bound to addr ("host:port", resolved with net.ResolveTCPAddr) and
// returns its fd. Both IPv4 and IPv6 addresses are supported.
func ListenTCP(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, fmt.Errorf("resolve %q: %w", addr, err)
	}

	var sa unix.Sockaddr
	domain := unix.AF_INET
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		domain = unix.AF_INET6
		var ip16 [16]byte
		copy(ip16[:], tcpAddr.IP.To16())
		sa = &unix.SockaddrInet6{Port: tcpAddr.Port, Addr: ip16}
	} else {
		var ip [4]byte
		copy(ip[:], ip4)
		sa = &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: ip}
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// Accept4 accepts one pending connection in non-blocking, close-on-exec
// mode. It returns unix.EAGAIN when the accept queue is drained — the
// caller loops until that happens, since edge-triggered readiness on
// the listener fires only once per burst of pending connections.
func Accept4(listenFd int) (fd int, sa unix.Sockaddr, err error) {
	return unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// Read wraps unix.Read for symmetry with Write.
func Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

// Write wraps unix.Write for symmetry with Read.
func Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

// Close closes a client fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// PeerAddr returns the remote address of a connected fd, or "?" if it
// cannot be determined.
func PeerAddr(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "?"
	}
	return sockaddrString(sa)
}

// LocalAddr returns the bound local address of fd, or "?" if it cannot
// be determined. Chiefly useful for listeners bound to port 0, where
// the kernel picks the actual port.
func LocalAddr(fd int) string {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "?"
	}
	return sockaddrString(sa)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IP(v.Addr[:]).String(), v.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(v.Addr[:]).String(), v.Port)
	default:
		return "?"
	}
}

// IsWouldBlock reports whether err is the transient EAGAIN/EWOULDBLOCK
// condition that means "try again after the next readiness event," not
// a real fault.
func IsWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// IsFatal reports whether err should trigger teardown with reason
// Error rather than being treated as transient.
func IsFatal(err error) bool {
	if err == nil || IsWouldBlock(err) || err == unix.EINTR {
		return false
	}
	return true
}
