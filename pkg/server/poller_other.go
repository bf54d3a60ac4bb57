//go:build !linux

package server

import "net"

func newPoller(int) (poller, error) {
	return nil, ErrUnsupportedPlatform
}

func listenTCP(string) (int, *net.TCPAddr, error) {
	return -1, nil, ErrUnsupportedPlatform
}

func acceptConn(int) (int, string, error) {
	return -1, "", ErrUnsupportedPlatform
}

func sysRead(int, []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func sysWrite(int, []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func sysClose(int) error {
	return ErrUnsupportedPlatform
}
