package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bdt/codec"
)

func sampleDesc(id byte, ts BuckyTime) *DeviceDescriptor {
	var did DeviceId
	did[0] = id
	return &DeviceDescriptor{
		DeviceId:   did,
		PublicKey:  []byte{1, 2, 3},
		UpdateTime: ts,
		Endpoints:  nil,
	}
}

func TestMergeContextOmitsDuplicateFieldsAcrossPackages(t *testing.T) {
	desc := sampleDesc(7, 1000)
	p1 := &SynTunnel{Sequence: 42, FromDeviceDesc: desc, SendTime: 555}
	p2 := &PingTunnel{Sequence: 42, SendTime: 555}

	buf, err := EncodePlainPackages([]Package{p1, p2})
	require.NoError(t, err)

	out, err := DecodePlainPackages(buf)
	require.NoError(t, err)
	require.Len(t, out, 2)

	got1 := out[0].(*SynTunnel)
	require.Equal(t, p1.Sequence, got1.Sequence)
	require.Equal(t, p1.SendTime, got1.SendTime)
	require.Equal(t, p1.FromDeviceDesc.DeviceId, got1.FromDeviceDesc.DeviceId)

	got2 := out[1].(*PingTunnel)
	require.Equal(t, p2.Sequence, got2.Sequence)
	require.Equal(t, p2.SendTime, got2.SendTime)
}

func TestMergeContextMissingFieldFailsDecode(t *testing.T) {
	// A PingTunnel with the sequence flag off, decoded from a brand new
	// (empty) context, has nowhere to read `sequence` from.
	ctx := NewMergeContext()
	flags := uint16(FlagVersion) // sequence bit NOT set
	buf, err := codec.EncodeU8(StackVersion, nil)
	require.NoError(t, err)

	p := &PingTunnel{}
	_, err = p.DecodeFields(ctx, flags, buf)
	require.Error(t, err)
}

func TestMergeContextFlagsArePositional(t *testing.T) {
	p := &AckTunnel{
		Sequence:       9,
		AckSequence:    5,
		SendTime:       12345,
		FromDeviceDesc: sampleDesc(3, 12345),
		Result:         ResultOK,
	}
	ctx := NewMergeContext()
	fields, flags, err := p.EncodeFields(ctx)
	require.NoError(t, err)
	require.NotZero(t, flags&FlagVersion)
	require.NotZero(t, flags&FlagSequence)
	require.NotZero(t, flags&FlagSendTime)
	require.NotZero(t, flags&FlagDeviceDesc)
	require.NotEmpty(t, fields)
}
