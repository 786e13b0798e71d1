package protocol

import "bdt/codec"

// DeviceDescriptor is the signed, content-addressed blob describing a
// peer: its public key material, the endpoints it may be reached on,
// and the wall-clock time it was last updated (used as the "remote
// timestamp" for restart detection and tiebreaking, spec.md §3/§9).
type DeviceDescriptor struct {
	DeviceId   DeviceId
	PublicKey  []byte // DER-encoded RSA public key
	UpdateTime BuckyTime
	Endpoints  []Endpoint
}

func EncodeDeviceDescriptor(d *DeviceDescriptor, buf []byte) ([]byte, error) {
	var err error
	buf, err = EncodeDeviceId(d.DeviceId, buf)
	if err != nil {
		return nil, err
	}
	buf, err = codec.EncodeBytes(d.PublicKey, buf)
	if err != nil {
		return nil, err
	}
	buf, err = codec.EncodeU64(uint64(d.UpdateTime), buf)
	if err != nil {
		return nil, err
	}
	return codec.EncodeList(d.Endpoints, buf, EncodeEndpoint)
}

func DecodeDeviceDescriptor(buf []byte) (*DeviceDescriptor, []byte, error) {
	d := &DeviceDescriptor{}
	var err error
	d.DeviceId, buf, err = DecodeDeviceId(buf)
	if err != nil {
		return nil, nil, err
	}
	d.PublicKey, buf, err = codec.DecodeBytes(buf)
	if err != nil {
		return nil, nil, err
	}
	ut, rest, err := codec.DecodeU64(buf)
	if err != nil {
		return nil, nil, err
	}
	d.UpdateTime = BuckyTime(ut)
	d.Endpoints, rest, err = codec.DecodeList(rest, DecodeEndpoint)
	if err != nil {
		return nil, nil, err
	}
	return d, rest, nil
}
