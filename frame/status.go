package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// TypeStatus is the frame type the coordinator sends to acknowledge every command.
	TypeStatus uint16 = 0x8000
	// TypeAPSAck reports the APS level delivery result of a command sent to a node.
	TypeAPSAck uint16 = 0x8011
	// TypeAPSDataConfirm reports that a command left the coordinator radio.
	TypeAPSDataConfirm uint16 = 0x8012
	// TypeExtendedError reports an extended error code.
	TypeExtendedError uint16 = 0x8701
	// TypeAPSDataConfirmFail reports a failed APS data confirm.
	TypeAPSDataConfirmFail uint16 = 0x8702
)

// StatusSuccess is the status code of a successfully accepted command.
const StatusSuccess uint8 = 0x00

var ErrNotStatus = errors.New("frame: not a status frame")

// Status is the content of a TypeStatus frame.
type Status struct {
	Code    uint8
	SQN     uint8
	Command uint16
}

// OK reports whether the coordinator accepted the command.
func (s Status) OK() bool { return s.Code == StatusSuccess }

// ParseStatus extracts the status fields of a TypeStatus frame.
func ParseStatus(f *Frame) (Status, error) {
	if f == nil || f.Type != TypeStatus {
		return Status{}, ErrNotStatus
	}
	if len(f.Data) < 4 {
		return Status{}, fmt.Errorf("%w: status data %d bytes", ErrTooShort, len(f.Data))
	}

	return Status{
		Code:    f.Data[0],
		SQN:     f.Data[1],
		Command: binary.BigEndian.Uint16(f.Data[2:4]),
	}, nil
}

// EncodeStatus builds the data section of a status frame. It is used by tests and simulators.
func EncodeStatus(s Status) []byte {
	data := make([]byte, 4)
	data[0] = s.Code
	data[1] = s.SQN
	binary.BigEndian.PutUint16(data[2:4], s.Command)

	return data
}
