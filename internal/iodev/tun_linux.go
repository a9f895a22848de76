//go:build linux

package iodev

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vitlabuda/tundra-nat64-sub001/internal/xlat"
)

const (
	ifNameSize = 16
	tunDevPath = "/dev/net/tun"
)

// ifReq mirrors struct ifreq's ifr_name/ifr_flags prefix, the portion
// TUNSETIFF and the persistence ioctls need.
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// OpenTUN opens (creating if necessary) the named Linux TUN interface in
// IFF_NO_PI mode -- the core only ever sees stripped IP datagrams, per
// spec.md §6. OpenTUN does not change the interface's persistence (IFF_TUN
// without IFF_TUN_EXCL is always non-exclusive); making it persistent is a
// separate ioctl issued by mktun through CreatePersistentTUN.
func OpenTUN(name string) (xlat.Endpoint, string, error) {
	fd, err := unix.Open(tunDevPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, "", fmt.Errorf("iodev: opening %s: %w", tunDevPath, err)
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	if err := ioctl(fd, unix.TUNSETIFF, unsafe.Pointer(&req)); err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("iodev: TUNSETIFF: %w", err)
	}

	actualName := nullTerminatedString(req.Name[:])

	ep, err := NewFDEndpoint(fd, false)
	if err != nil {
		unix.Close(fd)
		return nil, "", err
	}
	return ep, actualName, nil
}

// CreatePersistentTUN implements the mktun operational mode
// (spec.md §6 / original_source/src/t64_opmode_mktun.c): open the device,
// set it persistent, and close our handle without tearing it down.
func CreatePersistentTUN(name string, uid, gid int) error {
	fd, err := unix.Open(tunDevPath, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("iodev: opening %s: %w", tunDevPath, err)
	}
	defer unix.Close(fd)

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	if err := ioctl(fd, unix.TUNSETIFF, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("iodev: TUNSETIFF: %w", err)
	}
	if err := ioctl(fd, unix.TUNSETPERSIST, unsafe.Pointer(uintptr(1))); err != nil {
		return fmt.Errorf("iodev: TUNSETPERSIST: %w", err)
	}
	if uid >= 0 {
		if err := ioctl(fd, unix.TUNSETOWNER, unsafe.Pointer(uintptr(uid))); err != nil {
			return fmt.Errorf("iodev: TUNSETOWNER: %w", err)
		}
	}
	if gid >= 0 {
		if err := ioctl(fd, unix.TUNSETGROUP, unsafe.Pointer(uintptr(gid))); err != nil {
			return fmt.Errorf("iodev: TUNSETGROUP: %w", err)
		}
	}
	return nil
}

// RemovePersistentTUN implements the rmtun operational mode
// (original_source/src/opmode_rmtun.c): clear the persistence flag so the
// kernel destroys the interface once no file descriptor references it.
func RemovePersistentTUN(name string) error {
	fd, err := unix.Open(tunDevPath, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("iodev: opening %s: %w", tunDevPath, err)
	}
	defer unix.Close(fd)

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TUN | unix.IFF_NO_PI

	if err := ioctl(fd, unix.TUNSETIFF, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("iodev: TUNSETIFF: %w", err)
	}
	return ioctl(fd, unix.TUNSETPERSIST, unsafe.Pointer(uintptr(0)))
}

func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
