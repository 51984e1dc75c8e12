package errors

import (
	stderrors "errors"

	"github.com/triunity/node/jsonx"
)

// Code classifies a failure for callers that decide between rejecting, retrying and penalizing.
type Code string

const (
	CodeInternal Code = "internal_error"

	// Validation failures: the offending data is dropped and its source penalized.
	CodeInvalidTransaction Code = "invalid_transaction"
	CodeInvalidSignature   Code = "invalid_signature"
	CodeMerkleMismatch     Code = "merkle_mismatch"
	CodeInvalidVersion     Code = "invalid_version"
	CodeBrokenLinkage      Code = "broken_linkage"
	CodeMalformedBlock     Code = "malformed_block"

	// Progress failures, retried on the next tick.
	CodeSyncStall Code = "sync_stall"

	// Collaborator failures, surfaced to the apply caller and retried with backoff.
	CodeStorage Code = "storage_failure"
	CodeState   Code = "state_failure"
)

const (
	MsgEmptySender       = "sender identity is empty"
	MsgEmptyRecipient    = "recipient identity is empty"
	MsgEmptyTransfer     = "transaction carries neither amount nor payload"
	MsgBadSignature      = "signature does not verify against sender"
	MsgMerkleMismatch    = "merkle root does not match transactions"
	MsgZeroVersion       = "block version must be nonzero"
	MsgLinkageMismatch   = "previous hash does not match chain tip"
	MsgNoEligiblePeer    = "no peer ahead of local height with sufficient reliability"
	MsgStorageWriteBlock = "block could not be persisted"
	MsgStateApply        = "block could not be applied to state"
	MsgUndecodable       = "sync response could not be decoded"
)

// NodeError is the error type shared by validation, sync and apply paths.
type NodeError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *NodeError) Error() string {
	view := struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
		Cause   string `json:"cause,omitempty"`
	}{Code: e.Code, Message: e.Message}
	if e.Err != nil {
		view.Cause = e.Err.Error()
	}
	out, _ := jsonx.Marshal(view)
	return string(out)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Is matches any NodeError carrying the same code.
func (e *NodeError) Is(target error) bool {
	t, ok := target.(*NodeError)
	return ok && t.Code == e.Code && t.Message == ""
}

func New(code Code, message string) error {
	return &NodeError{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) error {
	return &NodeError{Code: code, Message: message, Err: err}
}

// Sentinel returns a code-only NodeError usable as an errors.Is target.
func Sentinel(code Code) error {
	return &NodeError{Code: code}
}

// CodeOf returns the code of the first NodeError in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var ne *NodeError
	if stderrors.As(err, &ne) {
		return ne.Code
	}
	return CodeInternal
}

// IsValidation reports whether err rejects data rather than signalling a local failure.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidTransaction, CodeInvalidSignature, CodeMerkleMismatch,
		CodeInvalidVersion, CodeBrokenLinkage, CodeMalformedBlock:
		return true
	}
	return false
}
