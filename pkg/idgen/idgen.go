// Package idgen mints the globally unique identifiers the runtime needs
// when it installs a program: a program_uid must differ across
// successive installations on the same flow so that a Report bearing a
// stale uid can be detected and dropped. Built on
// github.com/rs/xid (a teacher go.mod dependency, unused by any teacher
// code path we kept — see DESIGN.md) for lock-free, sortable, globally
// unique IDs without a central counter.
package idgen

import (
	"hash/fnv"

	"github.com/rs/xid"
)

// NextProgramUID mints a fresh program_uid. xid.New() encodes a
// timestamp, machine id, process id, and counter into 12 bytes; folding
// it to 32 bits with FNV keeps the wire-format's u32 program_uid field
// while still drawing uniqueness from xid rather than a process-local
// counter, so ids stay distinct across runtime restarts.
func NextProgramUID() uint32 {
	id := xid.New()
	h := fnv.New32a()
	_, _ = h.Write(id.Bytes())
	return h.Sum32()
}
