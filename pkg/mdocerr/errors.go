// Package mdocerr defines the closed set of error codes returned by the
// mdoc issuance and verification pipelines.
//
// Every code is a stable integer with a stable string name so that callers
// can dispatch programmatically instead of matching on message text.
package mdocerr

import (
	"fmt"

	"github.com/moogar0880/problems"
)

// Code is one of the closed set of error codes below.
type Code int

// 1xxx: cryptographic/trust.
const (
	IssuerSignatureInvalid Code = 1001
	MsoDigestMismatch      Code = 1002
	TrustChainUntrusted    Code = 1003
	CertificateExpired     Code = 1004
	DocExpired             Code = 1005
	DocNotYetValid         Code = 1006
)

// 2xxx: document content.
const (
	DocTypeMismatch     Code = 2001
	RequiredClaimMissing Code = 2002
	ClaimNotRequested    Code = 2003
	NamespaceNotRequested Code = 2004
	ProfileMismatch      Code = 2005
)

// 3xxx: session/auth.
const (
	ChallengeMissing        Code = 3001
	ChallengeMismatch       Code = 3002
	SessionExpired          Code = 3003
	OriginVerificationFailed Code = 3004
)

// 4xxx: device.
const (
	DeviceSignatureInvalid Code = 4001
	DeviceKeyUnavailable   Code = 4002
	DeviceBindingFailed    Code = 4003
)

// 5xxx: structural/parsing.
const (
	MalformedIssuerSigned           Code = 5001
	MalformedDeviceSigned           Code = 5002
	InvalidClaimFormat              Code = 5003
	UnsupportedNamespace            Code = 5004
	UnsupportedAlgorithm            Code = 5005
	ValueDigestsMissingForNamespace Code = 5006
	ValueDigestsMissingForDigestId  Code = 5007
)

// Structural-field-missing codes. Of these, only DeviceSignatureMissing and
// DeviceMacNotSupported are returned, by device authentication in pkg/mdoc;
// the others are declared but not raised anywhere in this module.
const (
	DocTypeMissing            Code = 5100
	IssuerSignedMissing       Code = 5101
	DeviceSignedMissing       Code = 5102
	IssuerAuthMissing         Code = 5103
	IssuerNameSpacesMissing   Code = 5104
	DeviceNameSpacesMissing   Code = 5105
	DeviceAuthMissing         Code = 5106
	DeviceSignatureMissing    Code = 5107
	DeviceMacNotSupported     Code = 5108
	VersionMissing            Code = 5109
	DigestAlgorithmMissing    Code = 5110
	ValueDigestsMissing       Code = 5111
	DeviceKeyInfoMissing      Code = 5112
	ValidityInfoMissing       Code = 5113
	SignedMissing             Code = 5114
	ValidFromMissing          Code = 5115
	ValidUntilMissing         Code = 5116
)

var names = map[Code]string{
	IssuerSignatureInvalid:          "IssuerSignatureInvalid",
	MsoDigestMismatch:               "MsoDigestMismatch",
	TrustChainUntrusted:             "TrustChainUntrusted",
	CertificateExpired:              "CertificateExpired",
	DocExpired:                      "DocExpired",
	DocNotYetValid:                  "DocNotYetValid",
	DocTypeMismatch:                 "DocTypeMismatch",
	RequiredClaimMissing:            "RequiredClaimMissing",
	ClaimNotRequested:               "ClaimNotRequested",
	NamespaceNotRequested:           "NamespaceNotRequested",
	ProfileMismatch:                 "ProfileMismatch",
	ChallengeMissing:                "ChallengeMissing",
	ChallengeMismatch:               "ChallengeMismatch",
	SessionExpired:                  "SessionExpired",
	OriginVerificationFailed:        "OriginVerificationFailed",
	DeviceSignatureInvalid:          "DeviceSignatureInvalid",
	DeviceKeyUnavailable:            "DeviceKeyUnavailable",
	DeviceBindingFailed:             "DeviceBindingFailed",
	MalformedIssuerSigned:           "MalformedIssuerSigned",
	MalformedDeviceSigned:           "MalformedDeviceSigned",
	InvalidClaimFormat:              "InvalidClaimFormat",
	UnsupportedNamespace:            "UnsupportedNamespace",
	UnsupportedAlgorithm:            "UnsupportedAlgorithm",
	ValueDigestsMissingForNamespace: "ValueDigestsMissingForNamespace",
	ValueDigestsMissingForDigestId:  "ValueDigestsMissingForDigestId",
	DocTypeMissing:                  "DocTypeMissing",
	IssuerSignedMissing:             "IssuerSignedMissing",
	DeviceSignedMissing:             "DeviceSignedMissing",
	IssuerAuthMissing:               "IssuerAuthMissing",
	IssuerNameSpacesMissing:         "IssuerNameSpacesMissing",
	DeviceNameSpacesMissing:         "DeviceNameSpacesMissing",
	DeviceAuthMissing:               "DeviceAuthMissing",
	DeviceSignatureMissing:          "DeviceSignatureMissing",
	DeviceMacNotSupported:           "DeviceMacNotSupported",
	VersionMissing:                  "VersionMissing",
	DigestAlgorithmMissing:          "DigestAlgorithmMissing",
	ValueDigestsMissing:             "ValueDigestsMissing",
	DeviceKeyInfoMissing:            "DeviceKeyInfoMissing",
	ValidityInfoMissing:             "ValidityInfoMissing",
	SignedMissing:                   "SignedMissing",
	ValidFromMissing:                "ValidFromMissing",
	ValidUntilMissing:               "ValidUntilMissing",
}

// String returns the stable name for the code, or "Unknown" if it is not
// one of the codes declared above.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "Unknown"
}

// Error is the single error type the library returns. Code and Name
// together permit programmatic dispatch; Message is for humans; Err, when
// present, is the wrapped cause (a CBOR decode error, an x509 error, etc).
type Error struct {
	Code    Code
	Name    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Name, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error carrying a code and a message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Name: code.String(), Message: message}
}

// Wrap builds an Error carrying a code, a message, and an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Name: code.String(), Message: message, Err: err}
}

// Problem renders the error as an RFC 7807 problem document for callers
// that expose this library over HTTP. The library itself never does this.
func (e *Error) Problem() *problems.Problem {
	p := problems.NewStatusProblem(e.httpStatus())
	p.Title = e.Name
	p.Detail = e.Message
	return p
}

func (e *Error) httpStatus() int {
	switch e.Code / 1000 {
	case 1:
		return 403
	case 2, 5:
		return 422
	case 3:
		return 401
	case 4:
		return 403
	default:
		return 500
	}
}
