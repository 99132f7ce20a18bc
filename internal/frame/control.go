package frame

import "encoding/json"

// ControlCommand is the decoded form of a CONTROL_CMD frame payload
// (spec §4.1): {cmd:"resize", cols, rows} | {cmd:"kill", signal} | {cmd:"reset-size"}.
type ControlCommand struct {
	Cmd    string `json:"cmd"`
	Cols   uint16 `json:"cols,omitempty"`
	Rows   uint16 `json:"rows,omitempty"`
	Signal string `json:"signal,omitempty"`
}

const (
	CmdResize    = "resize"
	CmdKill      = "kill"
	CmdResetSize = "reset-size"
)

// DecodeControlCommand parses a CONTROL_CMD payload.
func DecodeControlCommand(payload []byte) (ControlCommand, error) {
	var cmd ControlCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return ControlCommand{}, err
	}
	return cmd, nil
}

// EncodeControlCommand serializes a ControlCommand for callers building IPC
// client traffic (used by the fwd CLI and tests).
func EncodeControlCommand(cmd ControlCommand) []byte {
	b, _ := json.Marshal(cmd)
	return b
}

// ErrorPayload is the JSON body of an ERROR IPC frame (spec §4.1/§7).
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// EncodeErrorPayload serializes an ErrorPayload.
func EncodeErrorPayload(p ErrorPayload) []byte {
	b, _ := json.Marshal(p)
	return b
}

// DecodeErrorPayload parses an ERROR IPC frame's payload.
func DecodeErrorPayload(payload []byte) (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ErrorPayload{}, err
	}
	return p, nil
}
