// Package tmdriver defines the requests the consensus engine sends to the
// host application, and the responses the host sends back. Every request
// except DecideRequest carries a buffered Resp channel so the engine's send
// never blocks on the
// host's goroutine scheduling, mirroring the request/response channel
// pattern the teacher repo uses between tmengine and its host driver.
package tmdriver

import (
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// GetValueRequest asks the host to build a value to propose for
// (Height, Round). The host later responds on Resp, or never responds if
// the round moves on; the engine treats an unanswered request past its
// propose timeout as a propose timeout (spec's GetValue-unavailable rule).
type GetValueRequest struct {
	Height tmconsensus.Height
	Round  tmconsensus.Round

	Resp chan GetValueResponse
}

type GetValueResponse struct {
	Value tmconsensus.Value
}

// ValidateValueRequest asks the host whether a received value is
// application-valid, independent of its consensus validity.
type ValidateValueRequest struct {
	Height tmconsensus.Height
	Round  tmconsensus.Round
	Value  tmconsensus.Value

	Resp chan ValidateValueResponse
}

type ValidateValueResponse struct {
	Valid bool
}

// ExtendVoteRequest asks the host for an opaque payload to attach to a
// precommit for (Height, Round, ValueID).
type ExtendVoteRequest struct {
	Height  tmconsensus.Height
	Round   tmconsensus.Round
	ValueID tmconsensus.ValueID

	Resp chan ExtendVoteResponse
}

type ExtendVoteResponse struct {
	Extension []byte
}

// VerifyVoteExtensionRequest asks the host to validate a received vote's
// extension payload before the vote is credited to the vote keeper.
type VerifyVoteExtensionRequest struct {
	Vote tmconsensus.Vote

	Resp chan VerifyVoteExtensionResponse
}

type VerifyVoteExtensionResponse struct {
	Valid bool
}

// DecideRequest hands a finished decision to the host. There is no response
// channel: once the send completes, the engine considers the height closed
// and moves on to h+1. It does not wait for any acknowledgement from the
// host, and the engine has no API through which the host could give one.
type DecideRequest struct {
	Height      tmconsensus.Height
	Round       tmconsensus.Round
	Value       tmconsensus.Value
	Certificate tmconsensus.Certificate
}

// GetValidatorSetRequest resolves the validator set effective at Height.
type GetValidatorSetRequest struct {
	Height tmconsensus.Height

	Resp chan GetValidatorSetResponse
}

type GetValidatorSetResponse struct {
	Validators tmconsensus.ValidatorSet
}
