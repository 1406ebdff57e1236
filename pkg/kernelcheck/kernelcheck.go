/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package kernelcheck gates transports that depend on a minimum running
// kernel version: it detects the kernel version once at init and
// exposes it as Version, with NetlinkAvailable and AtLeast for pkg/ipc
// to branch on,
// adapted from the teacher's pkg/kernel + pkg/linux/init.go, which
// gated struct_tcp_info field availability the same way (SPEC_FULL.md
// §2 "pkg/kernelcheck"). Here the thing being gated is the netlink
// transport (pkg/ipc/netlinkipc) and its multicast-group join, not a
// tcp_info struct size.
package kernelcheck

import "github.com/docker/docker/pkg/parsers/kernel"

// Version is the detected running kernel version, or nil if detection
// failed (e.g. non-Linux or unsupported platform).
var Version *kernel.VersionInfo

// detectErr records why Version is nil, surfaced by NetlinkAvailable's
// caller if they want the reason.
var detectErr error

// netlinkMinVersion is the minimum kernel that reliably supports
// NETLINK_USERSOCK generic sockets with multicast group joins.
var netlinkMinVersion = kernel.VersionInfo{Kernel: 3, Major: 0, Minor: 0}

func init() {
	Version, detectErr = kernel.GetKernelVersion()
}

// NetlinkAvailable reports whether the running kernel is new enough for
// pkg/ipc/netlinkipc, and if not, why.
func NetlinkAvailable() (bool, error) {
	if detectErr != nil {
		return false, detectErr
	}
	return kernel.CompareKernelVersion(*Version, netlinkMinVersion) >= 0, nil
}

// AtLeast reports whether the running kernel is >= the given version,
// for callers that want to gate on something other than netlink.
func AtLeast(k, major, minor int) (bool, error) {
	if detectErr != nil {
		return false, detectErr
	}
	return kernel.CompareKernelVersion(*Version, kernel.VersionInfo{Kernel: k, Major: major, Minor: minor}) >= 0, nil
}
