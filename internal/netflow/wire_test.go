// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netflow

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleObservation() Observation {
	return Observation{
		Base:     Base{Sig: SigObservation, ID: 42},
		Obs:      ObsRecv,
		TStartS:  1000,
		TStartNS: 500,
		TNowS:    1005,
		TNowNS:   900,
		Sockfd:   7,
		PVM:      Endpoint{AF: 4, Addr: [16]byte{10, 0, 0, 5}, Port: 443},
		Remote:   Endpoint{AF: 4, Addr: [16]byte{203, 0, 113, 9}, Port: 51000},
		BytesIn:  4096,
		BytesOut: 128,
		Extra:    0,
	}
}

func TestObservationRoundTrip(t *testing.T) {
	o := sampleObservation()
	buf := EncodeObservation(o)
	assert.Len(t, buf, baseSize+observationPayload)

	decoded, err := DecodeObservation(o.Base, buf[baseSize:])
	require.NoError(t, err)
	assert.Equal(t, o, decoded)
}

func TestFeatureRequestRoundTrip(t *testing.T) {
	r := FeatureRequest{
		Base:   Base{Sig: SigFeatureRequest, ID: 7},
		Flags:  FlagWrite,
		Name:   FeatureSocketOpen,
		Val0:   1,
		Val1:   2,
		Sockfd: 99,
	}
	buf := EncodeFeatureRequest(r)
	assert.Len(t, buf, baseSize+featureReqPayload)

	decoded, err := DecodeFeatureRequest(r.Base, buf[baseSize:])
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestFeatureResponseRoundTrip(t *testing.T) {
	r := FeatureResponse{Base: Base{Sig: SigFeatureResponse, ID: 7}, Status: -1}
	copy(r.Val[:], []byte{1, 2, 3, 4})
	buf := EncodeFeatureResponse(r)
	assert.Len(t, buf, baseSize+featureResPayload)

	decoded, err := DecodeFeatureResponse(r.Base, buf[baseSize:])
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
}

func TestReadFrameDecodesObservation(t *testing.T) {
	o := sampleObservation()
	buf := bytes.NewReader(EncodeObservation(o))
	frame, err := ReadFrame(buf)
	require.NoError(t, err)
	got, ok := frame.(*Observation)
	require.True(t, ok)
	assert.Equal(t, o, *got)
}

func TestReadFrameRejectsUnknownSignature(t *testing.T) {
	var raw [baseSize]byte
	raw[0], raw[1] = 0xff, 0xff // not one of the three known signatures
	_, err := ReadFrame(bytes.NewReader(raw[:]))
	require.Error(t, err)
	var unk ErrUnknownSignature
	assert.ErrorAs(t, err, &unk)
	assert.Equal(t, uint16(0xffff), unk.Sig)
}

func TestObservationTotalFrameSizeIs116Bytes(t *testing.T) {
	// Ties wire layout to the BASE_FMT+INFO_FMT struct computation
	// (base 6 + payload 110 = 116 total).
	assert.Equal(t, 116, len(EncodeObservation(sampleObservation())))
}
