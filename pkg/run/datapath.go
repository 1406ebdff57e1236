/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package run

import (
	"fmt"

	"github.com/ccp-project/goccp/pkg/idgen"
	"github.com/ccp-project/goccp/pkg/ir"
	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/lang"
	"github.com/ccp-project/goccp/pkg/metrics"
	"github.com/ccp-project/goccp/pkg/ser"
)

// Datapath is the handle an algorithm's Flow uses to talk back to its
// socket's datapath: select a declared program, mutate control state,
// or install an ad hoc one.
type Datapath struct {
	sockID   uint32
	sender   *ipc.Sender
	programs map[string]*ir.Scope // shared, read-only: name -> globally installed program's Scope
	metrics  *metrics.Collector
}

// GetSockID returns this flow's socket id.
func (d *Datapath) GetSockID() uint32 { return d.sockID }

// SetProgram selects one of the algorithm-declared programs by name
// and binds this flow to it, applying preset atomically with the
// switch via a ChangeProg frame. preset may be empty; ChangeProg is
// still sent so the datapath learns which program_uid this socket now
// runs.
func (d *Datapath) SetProgram(name string, preset []FieldValue) (*ir.Scope, error) {
	scope, ok := d.programs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
	}
	updates, err := resolveWritableUpdates(scope, preset)
	if err != nil {
		return nil, err
	}
	msg := ser.ChangeProgMsg{SockID: d.sockID, ProgramUID: scope.ProgramUID, Updates: updates}
	buf, err := ser.EncodeChangeProg(msg, scope)
	if err != nil {
		return nil, fmt.Errorf("run: encode ChangeProg for %q: %w", name, err)
	}
	if err := d.sender.Send(buf); err != nil {
		return nil, fmt.Errorf("run: send ChangeProg for %q: %w", name, err)
	}
	d.metrics.IncFrameSent(d.sockID)
	return scope, nil
}

// UpdateField resolves each name in updates against scope, rejects any
// that are not writable (only Control or Implicit — Report and
// Primitive are rejected), and sends an UpdateField frame.
func (d *Datapath) UpdateField(scope *ir.Scope, updates []FieldValue) error {
	resolved, err := resolveWritableUpdates(scope, updates)
	if err != nil {
		return err
	}
	msg := ser.UpdateFieldMsg{SockID: d.sockID, Updates: resolved}
	buf, err := ser.EncodeUpdateField(msg, scope)
	if err != nil {
		return fmt.Errorf("run: encode UpdateField: %w", err)
	}
	if err := d.sender.Send(buf); err != nil {
		return fmt.Errorf("run: send UpdateField: %w", err)
	}
	d.metrics.IncFrameSent(d.sockID)
	return nil
}

// Install compiles source, assigns it a fresh program_uid, sends an
// Install frame bound to this flow's socket id, and returns the new
// Scope. If preset is non-empty a follow-up ChangeProg applies it to
// the freshly installed program.
func (d *Datapath) Install(source []byte, preset []FieldValue) (*ir.Scope, error) {
	bin, scope, err := lang.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("run: compile: %w", err)
	}
	scope.ProgramUID = idgen.NextProgramUID()

	instrs, err := ir.EncodeBin(bin, scope)
	if err != nil {
		return nil, fmt.Errorf("run: encode program: %w", err)
	}
	msg := ser.InstallMsg{SockID: d.sockID, Events: bin.Events, Instrs: instrs}
	if err := d.sender.Send(ser.EncodeInstall(msg)); err != nil {
		return nil, fmt.Errorf("run: send Install: %w", err)
	}
	d.metrics.IncFrameSent(d.sockID)
	d.metrics.IncInstall()

	if len(preset) > 0 {
		updates, err := resolveWritableUpdates(scope, preset)
		if err != nil {
			return nil, err
		}
		cp := ser.ChangeProgMsg{SockID: d.sockID, ProgramUID: scope.ProgramUID, Updates: updates}
		buf, err := ser.EncodeChangeProg(cp, scope)
		if err != nil {
			return nil, fmt.Errorf("run: encode preset ChangeProg: %w", err)
		}
		if err := d.sender.Send(buf); err != nil {
			return nil, fmt.Errorf("run: send preset ChangeProg: %w", err)
		}
		d.metrics.IncFrameSent(d.sockID)
	}

	return scope, nil
}

// resolveWritableUpdates resolves each FieldValue's name against scope,
// rejecting any register that is not Control or Implicit: Report and
// Primitive registers are not writable from the control plane.
func resolveWritableUpdates(scope *ir.Scope, updates []FieldValue) ([]ser.FieldUpdate, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	out := make([]ser.FieldUpdate, 0, len(updates))
	for _, u := range updates {
		reg, ok := scope.Lookup(u.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q not found in scope", ErrInvalidRegister, u.Name)
		}
		if reg.Class != ir.ClassControl && reg.Class != ir.ClassImplicit {
			return nil, fmt.Errorf("%w: %q is a %s register, not Control or Implicit", ErrInvalidRegister, u.Name, reg.Class)
		}
		out = append(out, ser.FieldUpdate{Reg: reg, Value: u.Value})
	}
	return out, nil
}
