// Package fabric wires KIS, AE, PRF, RPE, and the ARH agent registry into
// the single boot-time value the re-architecture guidance of spec §9
// calls for ("a Fabric value constructed at boot and passed by reference")
// in place of the C source's process-wide globals. It also hosts the
// control-plane admin surface (spec §4.6, §6): the five control commands
// and the audit/metrics boundaries to the out-of-core PostgreSQL
// collaborator.
package fabric

import pkgerr "github.com/agentfabric/fabric/pkg/errors"

// Sentinel errors surfaced by the fabric boot/control-plane layer.
var (
	// ErrMasterKeyMissing is the one Invariant failure this package
	// treats as fatal at boot (spec §7).
	ErrMasterKeyMissing = pkgerr.New("Fabric.Boot", "master key missing or malformed")
	// ErrCommandDenied is returned when a control command's source lacks
	// Admin permission (spec §4.6, §6).
	ErrCommandDenied = pkgerr.New("Fabric.Admin", "control command requires Admin permission")
	// ErrUnknownCommand is returned for a control message whose Command
	// field does not match one of the five defined commands.
	ErrUnknownCommand = pkgerr.New("Fabric.Admin", "unrecognized control command")
	// ErrAgentNotFound is returned by lookups against an id the registry
	// has never seen.
	ErrAgentNotFound = pkgerr.New("Fabric.Agent", "agent id not registered")
)
