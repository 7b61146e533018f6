// Package command defines the notifications a Server posts on its OutCommandCh.
package command

// InternalCommand represents a command type for internal server operations.
type InternalCommand int

const (
	// CmdUpdateServerState signals that the alive/stop state changed.
	CmdUpdateServerState InternalCommand = iota
	// CmdServerListening signals that the listener is bound.
	CmdServerListening
)

func (c InternalCommand) String() string {
	switch c {
	case CmdUpdateServerState:
		return "UpdateServerState"
	case CmdServerListening:
		return "ServerListening"
	default:
		return "Unknown"
	}
}
