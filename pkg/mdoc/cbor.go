// Package mdoc implements ISO/IEC 18013-5:2021 Mobile Driving Licence (mDL) data model and operations.
package mdoc

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Tag numbers this package wraps values in. ISO 18013-5 pins each of these to
// a specific meaning; none are negotiable at the wire level.
const (
	TagEncodedCBOR = 24   // #6.24(bstr .cbor _): an embedded, independently hashable CBOR item
	TagDate        = 1004 // #6.1004(tstr): full-date, RFC 8943
	TagDateTime    = 0    // #6.0(tstr): date-time, RFC 8949 tdate
)

// CBOREncoder provides CBOR encoding with ISO 18013-5 specific options.
type CBOREncoder struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewCBOREncoder creates a new CBOR encoder configured for ISO 18013-5.
func NewCBOREncoder() (*CBOREncoder, error) {
	// Configure encoding options per ISO 18013-5
	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical, // Canonical CBOR sorting
		IndefLength: cbor.IndefLengthForbidden,
		TimeTag:     cbor.EncTagRequired,
	}

	encMode, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}

	decMode, err := decOpts.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	encoder := &CBOREncoder{
		encMode: encMode,
		decMode: decMode,
	}
	return encoder, nil
}

// Marshal encodes a value to CBOR.
func (e *CBOREncoder) Marshal(v any) ([]byte, error) {
	return e.encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into a value.
func (e *CBOREncoder) Unmarshal(data []byte, v any) error {
	return e.decMode.Unmarshal(data, v)
}

// TaggedValue wraps a value with a CBOR tag.
type TaggedValue struct {
	Tag   uint64
	Value any
}

// MarshalCBOR implements cbor.Marshaler for TaggedValue.
func (t TaggedValue) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: t.Tag, Content: t.Value})
}

// EncodedCBORBytes represents CBOR-encoded bytes wrapped with tag 24.
// This is used for IssuerSignedItem and other structures that need to be
// independently verifiable.
type EncodedCBORBytes []byte

// MarshalCBOR implements cbor.Marshaler for EncodedCBORBytes.
func (e EncodedCBORBytes) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagEncodedCBOR, Content: []byte(e)})
}

// UnmarshalCBOR implements cbor.Unmarshaler for EncodedCBORBytes.
func (e *EncodedCBORBytes) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != TagEncodedCBOR {
		return fmt.Errorf("expected tag %d, got %d", TagEncodedCBOR, tag.Number)
	}
	content, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("expected byte string content")
	}
	*e = content
	return nil
}

// FullDate is a calendar date (YYYY-MM-DD, no time-of-day) carried under tag
// 1004: birth_date, issue_date, expiry_date, and the like.
type FullDate string

// MarshalCBOR implements cbor.Marshaler for FullDate.
func (f FullDate) MarshalCBOR() ([]byte, error) {
	return marshalTaggedText(TagDate, string(f))
}

// UnmarshalCBOR implements cbor.Unmarshaler for FullDate.
func (f *FullDate) UnmarshalCBOR(data []byte) error {
	s, err := unmarshalTaggedText(data, TagDate)
	if err != nil {
		return err
	}
	*f = FullDate(s)
	return nil
}

// TDate is a full timestamp carried under tag 0, e.g. validFrom/validUntil in
// the MSO's validity info.
type TDate string

// MarshalCBOR implements cbor.Marshaler for TDate.
func (t TDate) MarshalCBOR() ([]byte, error) {
	return marshalTaggedText(TagDateTime, string(t))
}

// UnmarshalCBOR implements cbor.Unmarshaler for TDate.
func (t *TDate) UnmarshalCBOR(data []byte) error {
	s, err := unmarshalTaggedText(data, TagDateTime)
	if err != nil {
		return err
	}
	*t = TDate(s)
	return nil
}

// marshalTaggedText is the shared wire encoding behind FullDate and TDate:
// both are just a tstr under a fixed tag number.
func marshalTaggedText(tag uint64, s string) ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: tag, Content: s})
}

// unmarshalTaggedText decodes the shared FullDate/TDate wire shape. Some
// issuers omit the tag and send a bare tstr; that's accepted too rather than
// rejected outright, since the text content is unambiguous either way.
func unmarshalTaggedText(data []byte, tag uint64) (string, error) {
	var t cbor.Tag
	if err := cbor.Unmarshal(data, &t); err != nil {
		var s string
		if err := cbor.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if t.Number != tag {
		return "", fmt.Errorf("expected tag %d, got %d", tag, t.Number)
	}
	s, ok := t.Content.(string)
	if !ok {
		return "", fmt.Errorf("expected string content for tag %d", tag)
	}
	return s, nil
}

// GenerateRandom returns n cryptographically random bytes, floored at 16 —
// the minimum ISO 18013-5 allows for a digest salt or session nonce.
func GenerateRandom(n int) ([]byte, error) {
	if n < 16 {
		n = 16
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// WrapInEncodedCBOR wraps a value in CBOR tag 24 (encoded CBOR).
func WrapInEncodedCBOR(v any) (EncodedCBORBytes, error) {
	encoded, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return EncodedCBORBytes(encoded), nil
}

// UnwrapEncodedCBOR extracts the value from CBOR tag 24.
func UnwrapEncodedCBOR(data EncodedCBORBytes, v any) error {
	return cbor.Unmarshal(data, v)
}

// IssuerSignedItemBytes is an IssuerSignedItem wrapped in CBOR tag 24. Per
// ISO 18013-5 9.1.2.5, the MSO digest is taken over this outer tag-24
// encoding, never over the item's plain CBOR — a verifier that hashes the
// un-wrapped item will never match the issuer's digest.
type IssuerSignedItemBytes = EncodedCBORBytes

// NewIssuerSignedItemBytes encodes item and wraps the result in tag 24.
func NewIssuerSignedItemBytes(item IssuerSignedItem) (IssuerSignedItemBytes, error) {
	return WrapInEncodedCBOR(item)
}

// Decode unmarshals the IssuerSignedItem carried inside the tag-24 wrapper.
func (e IssuerSignedItemBytes) Decode() (*IssuerSignedItem, error) {
	var item IssuerSignedItem
	if err := cbor.Unmarshal([]byte(e), &item); err != nil {
		return nil, fmt.Errorf("failed to decode issuer-signed item: %w", err)
	}
	return &item, nil
}

// Digest hashes the tag-24 wire encoding (tag + byte-string header + content)
// under alg — the bytes an MSO's valueDigests entry actually commits to, not
// the bare un-wrapped item.
func (e IssuerSignedItemBytes) Digest(alg DigestAlgorithm) ([]byte, error) {
	wire, err := e.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode tag-24 wrapper: %w", err)
	}
	h, err := alg.newHash()
	if err != nil {
		return nil, err
	}
	h.Write(wire)
	return h.Sum(nil), nil
}

// DataElementValue is any value an mDL namespace may carry as a data element.
type DataElementValue any

// DataElementBytes encodes a data element value to CBOR.
func DataElementBytes(v DataElementValue) ([]byte, error) {
	return cbor.Marshal(v)
}

// CompareCBOR reports whether two CBOR encodings are byte-identical. With
// canonical encoding this doubles as a semantic-equality check for anything
// this package marshals.
func CompareCBOR(a, b []byte) bool {
	return bytes.Equal(a, b)
}
