// Package iodev supplies the concrete byte-oriented endpoints
// internal/xlat's Endpoint interface is built against: a Linux TUN device,
// or a pair of inherited file descriptors handed down by a supervisor
// process. Both are "deliberately out of scope" collaborators per
// spec.md §1 -- the core never imports this package's concrete types,
// only the Endpoint interface it satisfies.
package iodev

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlat"
	"github.com/vitlabuda/tundra-nat64-sub001/rwcancel"
)

// fdEndpoint adapts a raw file descriptor (a TUN device's fd, or one half
// of an inherited fd pair) to xlat.Endpoint, retrying EINTR/EAGAIN
// internally and classifying EBADF/EIO/closed-endpoint as fatal, per the
// I/O façade's error contract in spec.md §4.3/§7.
type fdEndpoint struct {
	file   *os.File
	cancel *rwcancel.RWCancel
}

// NewFDEndpoint wraps an already-open file descriptor. packetInfoPrefix
// strips (on read) / prepends (on write) the 4-byte TUN packet-info header
// some kernels deliver when IFF_NO_PI isn't set.
func NewFDEndpoint(fd int, packetInfoPrefix bool) (xlat.Endpoint, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	cancel, err := rwcancel.NewRWCancel(fd)
	if err != nil {
		return nil, err
	}
	e := &fdEndpoint{file: os.NewFile(uintptr(fd), "tundra-endpoint"), cancel: cancel}
	if packetInfoPrefix {
		return &piStrippingEndpoint{inner: e}, nil
	}
	return e, nil
}

func (e *fdEndpoint) Read(buf []byte) (int, error) {
	for {
		n, err := e.file.Read(buf)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			if !e.cancel.ReadyRead() {
				return 0, &xlat.FatalIOError{Op: "read", Err: errors.New("endpoint closed")}
			}
			continue
		}
		if errors.Is(err, unix.EBADF) || errors.Is(err, unix.EIO) || errors.Is(err, os.ErrClosed) {
			return 0, &xlat.FatalIOError{Op: "read", Err: err}
		}
		return 0, err
	}
}

func (e *fdEndpoint) Write(buf []byte) error {
	for {
		_, err := e.file.Write(buf)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			if !e.cancel.ReadyWrite() {
				return &xlat.FatalIOError{Op: "write", Err: errors.New("endpoint closed")}
			}
			continue
		}
		if errors.Is(err, unix.EBADF) || errors.Is(err, unix.EIO) || errors.Is(err, os.ErrClosed) {
			return &xlat.FatalIOError{Op: "write", Err: err}
		}
		return err
	}
}

func (e *fdEndpoint) Close() error {
	_ = e.cancel.Cancel()
	_ = e.cancel.Close()
	return e.file.Close()
}

// piStrippingEndpoint removes/adds the 4-byte TUN packet-info prefix
// (flags uint16, protocol uint16) some kernel configurations deliver even
// without IFF_NO_PI, per spec.md §6's "I/O byte format" note.
type piStrippingEndpoint struct {
	inner *fdEndpoint
}

func (e *piStrippingEndpoint) Read(buf []byte) (int, error) {
	var scratch [4]byte
	tmp := make([]byte, len(buf)+4)
	n, err := e.inner.Read(tmp)
	if err != nil {
		return 0, err
	}
	if n < 4 {
		return 0, nil
	}
	copy(scratch[:], tmp[:4])
	copy(buf, tmp[4:n])
	return n - 4, nil
}

func (e *piStrippingEndpoint) Write(buf []byte) error {
	tmp := make([]byte, len(buf)+4)
	// flags=0 and protocol=0. Whether a kernel accepts a zero protocol
	// field varies; OpenTUN (tun_linux.go) sets IFF_NO_PI and does not use
	// this wrapper.
	copy(tmp[4:], buf)
	return e.inner.Write(tmp)
}

func (e *piStrippingEndpoint) Close() error {
	return e.inner.Close()
}
