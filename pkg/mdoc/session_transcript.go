// Package mdoc implements the ISO/IEC 18013-5:2021 Mobile Driving Licence (mDL) data model.
package mdoc

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"mdoc/pkg/jwk"
)

// OpenID4VPDCAPIHandoverInfo is the structure hashed to bind a device
// signature to a verifier-originated OID4VP request delivered over the
// Digital Credentials API.
//
// OpenID4VPDCAPIHandoverInfo = [origin, nonce, jwkThumbprint]
type OpenID4VPDCAPIHandoverInfo struct {
	_             struct{} `cbor:",toarray"`
	Origin        string
	Nonce         string
	JWKThumbprint []byte // RFC 7638 thumbprint of the verifier's key, or nil
}

// BuildOpenID4VPDCAPISessionTranscript builds the SessionTranscript bytes for
// an OID4VP-over-DC-API presentation, per the normative construction:
//
//  1. OpenID4VPDCAPIHandoverInfo = [origin, nonce, jwkThumbprint], CBOR-encoded
//     then SHA-256 hashed.
//  2. OpenID4VPDCAPIHandover = ["OpenID4VPDCAPIHandover", hash].
//  3. SessionTranscript = [null, null, OpenID4VPDCAPIHandover].
//
// jwkThumbprint may be nil when the verifier presented no key.
func BuildOpenID4VPDCAPISessionTranscript(origin, nonce string, jwkThumbprint []byte) ([]byte, error) {
	encoder, err := NewCBOREncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	info := OpenID4VPDCAPIHandoverInfo{
		Origin:        origin,
		Nonce:         nonce,
		JWKThumbprint: jwkThumbprint,
	}

	infoBytes, err := encoder.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover info: %w", err)
	}

	hash := sha256.Sum256(infoBytes)

	handover := []any{
		"OpenID4VPDCAPIHandover",
		hash[:],
	}

	transcript := []any{nil, nil, handover}

	transcriptBytes, err := encoder.Marshal(transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}

	return transcriptBytes, nil
}

// OpenID4VPDCAPISessionTranscriptForKey is a convenience wrapper that derives
// the RFC 7638 thumbprint from a verifier JWK before constructing the
// SessionTranscript.
func OpenID4VPDCAPISessionTranscriptForKey(origin, nonce string, verifierKey jwk.Key) ([]byte, error) {
	var thumbprint []byte
	if verifierKey != nil {
		tp, err := jwk.Thumbprint(verifierKey)
		if err != nil {
			return nil, fmt.Errorf("failed to compute JWK thumbprint: %w", err)
		}
		thumbprint = tp
	}
	return BuildOpenID4VPDCAPISessionTranscript(origin, nonce, thumbprint)
}

// BuildMdocWebAPISessionTranscript builds the legacy mdoc web-API
// SessionTranscript:
//
//	SessionTranscriptBytes = #6.24(bstr .cbor [DeviceEngagementBytes, EReaderKeyBytes, Handover])
//
// deviceEngagementBytes and eReaderKeyBytes are themselves tag-24-wrapped
// CBOR (see EncodeDeviceEngagement), embedded here verbatim; handover is the
// already-CBOR-encoded handover data (nil for QR/NFC engagement, a
// CBOR-encoded array for website engagement — see NFCHandover/QRHandover/
// WebsiteHandover).
func BuildMdocWebAPISessionTranscript(deviceEngagementBytes, eReaderKeyBytes, handover []byte) ([]byte, error) {
	transcript := []any{
		cbor.RawMessage(deviceEngagementBytes),
		cbor.RawMessage(eReaderKeyBytes),
		rawOrNil(handover),
	}

	wrapped, err := WrapInEncodedCBOR(transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}

	return wrapped.MarshalCBOR()
}

// rawOrNil treats an empty handover as CBOR null rather than an empty byte
// string; NFCHandover/QRHandover both return nil for exactly this reason.
func rawOrNil(handover []byte) any {
	if len(handover) == 0 {
		return nil
	}
	return cbor.RawMessage(handover)
}
