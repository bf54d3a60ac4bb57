//go:build linux

package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller is a level-triggered epoll instance plus an eventfd used to
// interrupt EpollWait from other goroutines.
type epollPoller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent

	mu     sync.Mutex // Guards wakefd against use after Close
	closed bool
}

func newPoller(maxEvents int) (poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	p := &epollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}
	if err := p.Add(wakefd); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *epollPoller) Add(fd int) error {
	event := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, event); err != nil {
		return fmt.Errorf("epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del %d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Wait(ready []int) (int, bool, error) {
	events := p.events
	if len(ready) < len(events) {
		events = events[:len(ready)]
	}

	n, err := unix.EpollWait(p.epfd, events, -1)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("epoll_wait: %w", err)
	}

	count := 0
	woken := false
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == p.wakefd {
			var buf [8]byte
			_, _ = unix.Read(p.wakefd, buf[:])
			woken = true
			continue
		}
		ready[count] = fd
		count++
	}
	return count, woken, nil
}

func (p *epollPoller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

// listenTCP binds a non-blocking listening socket. An empty host or "::"
// binds a dual-stack IPv6 socket that also accepts IPv4 clients, falling
// back to IPv4 when the kernel has no IPv6. "0.0.0.0" binds IPv4 only.
func listenTCP(address string) (int, *net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, nil, err
	}

	if addr.IP == nil || (addr.IP.To4() == nil && addr.IP.IsUnspecified()) {
		fd, err := openListener(unix.AF_INET6, &unix.SockaddrInet6{Port: addr.Port}, true)
		if err == nil || !errors.Is(err, unix.EAFNOSUPPORT) {
			return listenerAddr(fd, err)
		}
		return listenIPv4(addr)
	}
	if addr.IP.To4() != nil {
		return listenIPv4(addr)
	}

	sa6 := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa6.Addr[:], addr.IP.To16())
	fd, err := openListener(unix.AF_INET6, sa6, false)
	return listenerAddr(fd, err)
}

func listenIPv4(addr *net.TCPAddr) (int, *net.TCPAddr, error) {
	sa4 := &unix.SockaddrInet4{Port: addr.Port}
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(sa4.Addr[:], ip4)
	}
	fd, err := openListener(unix.AF_INET, sa4, false)
	return listenerAddr(fd, err)
}

// openListener creates, binds and listens on one socket. With dualStack
// set the IPv6 socket also accepts IPv4-mapped peers.
func openListener(family int, sa unix.Sockaddr, dualStack bool) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	if dualStack {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("setsockopt IPV6_V6ONLY: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// listenerAddr pairs fd with the address it is bound to, closing fd if
// that cannot be read. A non-nil err is passed through.
func listenerAddr(fd int, err error) (int, *net.TCPAddr, error) {
	if err != nil {
		return -1, nil, err
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}
	return fd, sockaddrToTCP(bound), nil
}

// acceptConn accepts one pending connection as a non-blocking descriptor.
func acceptConn(lnfd int) (int, string, error) {
	fd, sa, err := unix.Accept4(lnfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			return -1, "", errWouldBlock
		}
		return -1, "", err
	}
	remote := ""
	if addr := sockaddrToTCP(sa); addr != nil {
		remote = addr.String()
	}
	return fd, remote, nil
}

func sysRead(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// sysWrite sends with MSG_NOSIGNAL so a reset peer yields EPIPE, not SIGPIPE.
func sysWrite(fd int, p []byte) (int, error) {
	n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL)
	if n < 0 {
		n = 0
	}
	return n, err
}

func sysClose(fd int) error {
	return unix.Close(fd)
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	default:
		return nil
	}
}
