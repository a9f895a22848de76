package iodev

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlat"
)

// OpenInheritedFDPair parses a "<read-fd>,<write-fd>" spec describing two
// file descriptors a supervisor process has already opened and inherited
// into this process (io_mode = fd-pair), mirroring the original
// implementation's inherited-descriptor plumbing
// (t64f_init_io__get_fd_pair_from_inherited_fds_string). Both descriptors
// are wrapped as a single duplex Endpoint.
func OpenInheritedFDPair(spec string) (xlat.Endpoint, error) {
	parts := strings.SplitN(spec, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("iodev: fd-pair spec %q must be \"<read-fd>,<write-fd>\"", spec)
	}

	readFD, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("iodev: invalid read fd in %q: %w", spec, err)
	}
	writeFD, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("iodev: invalid write fd in %q: %w", spec, err)
	}

	readEP, err := NewFDEndpoint(readFD, false)
	if err != nil {
		return nil, fmt.Errorf("iodev: wrapping read fd %d: %w", readFD, err)
	}
	if writeFD == readFD {
		return readEP, nil
	}
	writeEP, err := NewFDEndpoint(writeFD, false)
	if err != nil {
		return nil, fmt.Errorf("iodev: wrapping write fd %d: %w", writeFD, err)
	}
	return &duplexEndpoint{read: readEP, write: writeEP}, nil
}

// duplexEndpoint pairs a read-only and a write-only Endpoint (two distinct
// inherited file descriptors) behind xlat's single bidirectional
// interface.
type duplexEndpoint struct {
	read  xlat.Endpoint
	write xlat.Endpoint
}

func (d *duplexEndpoint) Read(buf []byte) (int, error) { return d.read.Read(buf) }
func (d *duplexEndpoint) Write(buf []byte) error       { return d.write.Write(buf) }
