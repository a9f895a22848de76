/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2021 WireGuard LLC. All Rights Reserved.
 */

package rwcancel

import (
	"os"

	"golang.org/x/sys/unix"
)

// RWCancel lets a blocking read or write on fd be interrupted from another
// goroutine by writing to an internal self-pipe, polled alongside fd by
// the package's poll() helper.
type RWCancel struct {
	fd                           int
	closingReader, closingWriter *os.File
}

func NewRWCancel(fd int) (*RWCancel, error) {
	rw := &RWCancel{fd: fd}

	var err error
	rw.closingReader, rw.closingWriter, err = os.Pipe()
	if err != nil {
		return nil, err
	}

	return rw, nil
}

// Cancel unblocks a pending ReadyRead/ReadyWrite on this RWCancel.
func (rw *RWCancel) Cancel() error {
	_, err := rw.closingWriter.Write([]byte{0})
	return err
}

func (rw *RWCancel) Close() error {
	err1 := rw.closingReader.Close()
	err2 := rw.closingWriter.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// ReadyRead blocks until fd is readable or Cancel is called, returning
// false in the latter case.
func (rw *RWCancel) ReadyRead() bool {
	return rw.ready(unix.POLLIN)
}

// ReadyWrite blocks until fd is writable or Cancel is called, returning
// false in the latter case.
func (rw *RWCancel) ReadyWrite() bool {
	return rw.ready(unix.POLLOUT)
}

func (rw *RWCancel) ready(events int16) bool {
	fds := make([]unix.PollFd, 2)
	fds[0].Fd = int32(rw.fd)
	fds[0].Events = events
	fds[1].Fd = int32(rw.closingReader.Fd())
	fds[1].Events = unix.POLLIN

	for {
		_, err := poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false
		}
		break
	}

	if fds[1].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLIN) != 0 {
		return false
	}
	return fds[0].Revents&(unix.POLLERR|unix.POLLHUP|events) != 0
}
