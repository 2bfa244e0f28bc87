//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

var linuxFilesystemMagic = map[int64]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
}

func filesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	return linuxFilesystemMagic[int64(st.Type)], nil
}
