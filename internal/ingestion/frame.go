package ingestion

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"LendingLedger/internal/address"
	"LendingLedger/internal/event"

	"github.com/google/uuid"
)

// ActionEmitted is the only frame action that carries a contract event.
const ActionEmitted = "emitted"

// Frame is one JSON message of the contract-events stream.
type Frame struct {
	Action string     `json:"action"`
	Data   *FrameData `json:"data"`
	Extra  struct {
		DeployHash string `json:"deploy_hash"`
		BlockHash  string `json:"block_hash"`
	} `json:"extra"`
}

// FrameData is the emitted event itself. Payload is kept undecoded.
type FrameData struct {
	ContractPackageHash string          `json:"contract_package_hash"`
	Name                string          `json:"name"`
	Payload             json.RawMessage `json:"data"`
}

// isKeepalive reports whether msg is a bare Ping or Pong text frame.
func isKeepalive(msg []byte) bool {
	t := bytes.TrimSpace(msg)
	return bytes.Equal(t, []byte("Ping")) || bytes.Equal(t, []byte("Pong"))
}

// ParseFrame decodes a text frame. It returns a nil frame, without error,
// when the frame is valid JSON but not an emitted event.
func ParseFrame(msg []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil, err
	}
	if f.Action != ActionEmitted || f.Data == nil {
		return nil, nil
	}
	return &f, nil
}

// contractPackage is the normalized package hash of the frame, or the
// trimmed original text when it does not normalize.
func (f *Frame) contractPackage() string {
	raw := strings.TrimSpace(f.Data.ContractPackageHash)
	if id, err := address.NormalizeIdentity(raw); err == nil {
		return string(id)
	}
	return raw
}

// Provenance is the frame's origin, stamped with receivedAt.
func (f *Frame) Provenance(receivedAt time.Time) event.Provenance {
	return event.Provenance{
		ContractPackage: f.contractPackage(),
		DeployHash:      f.Extra.DeployHash,
		BlockHash:       f.Extra.BlockHash,
		ReceivedAt:      receivedAt,
	}
}

// RawRecord is the frame as it is stored before any interpretation. A
// missing payload is stored as JSON null.
func (f *Frame) RawRecord(src event.Provenance) event.RawRecord {
	payload := f.Data.Payload
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("null")
	}
	return event.RawRecord{
		ID:              uuid.New(),
		ContractPackage: src.ContractPackage,
		EventType:       f.Data.Name,
		Payload:         payload,
		DeployHash:      src.DeployHash,
		BlockHash:       src.BlockHash,
		ReceivedAt:      src.ReceivedAt,
	}
}
