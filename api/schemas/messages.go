package schemas

import (
	"context"
	"encoding/json"
)

// -- Sandbox Action Channel --

// Message type constants understood by the sandbox agent. These are the wire
// names of every remote operation the dispatcher depends on.
const (
	MsgMoveMouse    = "moveMouse"
	MsgLeftClick    = "leftClick"
	MsgRightClick   = "rightClick"
	MsgMiddleClick  = "middleClick"
	MsgDoubleClick  = "doubleClick"
	MsgMousePress   = "mousePress"
	MsgMouseRelease = "mouseRelease"
	MsgWrite        = "write"
	MsgPress        = "press"
	MsgScroll       = "scroll"

	MsgScreenshot = "system.screenshot"
	MsgNetwork    = "system.network"
	MsgSystemInfo = "system.info"

	MsgRunCommand       = "commands.run"
	MsgFocusApplication = "commands.focus-application"

	MsgTrackInteraction = "trackInteraction"
)

// Message is a single request to the sandbox agent. Fields are flattened into
// the wire envelope next to the type tag.
type Message struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Response is the sandbox agent's reply to a Message.
type Response struct {
	Success bool            `json:"success"`
	Out     json.RawMessage `json:"out,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Channel is the send/receive contract to the sandboxed OS. Implementations
// own transport concerns (correlation, timeouts, reconnects); callers must
// treat every failure as recoverable.
type Channel interface {
	Send(ctx context.Context, msg Message) (*Response, error)
}

// CommandResult is the decoded payload of a commands.run response.
type CommandResult struct {
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// NetworkTotals holds the sandbox's cumulative traffic counters.
type NetworkTotals struct {
	RxBytes int64 `json:"rx_bytes"`
	TxBytes int64 `json:"tx_bytes"`
}

// SystemInfo describes the remote sandbox, as reported by system.info.
type SystemInfo struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}
