package stream

import (
	"bdt/config"
	"bdt/errors"
	"bdt/protocol"
)

// OpenStream constructs a Connecting stream addressed to peer/vport
// carrying question, registers it with m, and runs the establishment
// race (spec.md §6: `connect(remote_device_id, vport, question) ->
// Stream`). localId is pre-allocated by the caller so connector
// attempts built before the Stream exists can still claim the same id
// the peer will see as our FromSessionId/local_id (spec.md §4.6).
func OpenStream(m *Manager, localId protocol.IncreaseId, peer protocol.DeviceId, vport uint16, question []byte, attempts []connectAttempt) (*Stream, error) {
	if len(question) > config.GlobalCfg.Stream.MaxAnswerBytes {
		return nil, errors.New(errors.OutOfLimit, "question exceeds max answer bytes cap")
	}
	s := newStream()
	s.LocalId = localId
	s.Peer = peer
	s.VPort = vport
	s.Question = question
	m.RegisterStream(s)

	if err := Connect(s, attempts); err != nil {
		m.UnregisterStream(s.LocalId)
		return nil, err
	}
	return s, nil
}
