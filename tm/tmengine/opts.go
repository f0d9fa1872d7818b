package tmengine

import (
	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmdriver"
	"github.com/chorus-consensus/chorus/tm/tmgossip"
	"github.com/chorus-consensus/chorus/tm/tmstore"
)

// Opt configures an Engine. The underlying function signature is subject
// to change at any time; only Opt values returned by With* functions may
// be considered stable.
type Opt func(*Engine) error

// WithWALStore sets the engine's write-ahead log. Required.
func WithWALStore(s tmstore.WALStore) Opt {
	return func(e *Engine) error { e.walStore = s; return nil }
}

// WithCertificateStore sets the engine's certificate store. Required.
func WithCertificateStore(s tmstore.CertificateStore) Opt {
	return func(e *Engine) error { e.certStore = s; return nil }
}

// WithValidatorStore sets the engine's validator store. Required.
func WithValidatorStore(s tmstore.ValidatorStore) Opt {
	return func(e *Engine) error { e.valStore = s; return nil }
}

// WithChainStore sets the engine's decided-chain store. Required.
func WithChainStore(s tmstore.ChainStore) Opt {
	return func(e *Engine) error { e.chainStore = s; return nil }
}

// WithSignatureScheme sets the scheme used to produce proposal/vote sign
// bytes. Required.
func WithSignatureScheme(s tmconsensus.SignatureScheme) Opt {
	return func(e *Engine) error { e.sigScheme = s; return nil }
}

// WithHashScheme sets the engine's hash scheme for certificates and
// validator sets. Required, although the engine itself only checks that it
// is set and does not call it.
func WithHashScheme(h tmconsensus.HashScheme) Opt {
	return func(e *Engine) error { e.hashScheme = h; return nil }
}

// WithRegistry sets the engine's registry for decoding validator public
// keys. Required, although the engine itself only checks that it is set and
// does not call it.
func WithRegistry(r *gcrypto.Registry) Opt {
	return func(e *Engine) error { e.registry = r; return nil }
}

// WithSigner sets the local validator's signing key. If omitted, the
// engine runs as an observer: it tracks consensus but never proposes or
// votes.
func WithSigner(s gcrypto.Signer) Opt {
	return func(e *Engine) error {
		e.signer = s
		e.selfAddress = s.PubKey().Address()
		return nil
	}
}

// WithGossipStrategy sets how the engine publishes and receives consensus
// messages. Required.
func WithGossipStrategy(gs tmgossip.Strategy) Opt {
	return func(e *Engine) error { e.gossip = gs; return nil }
}

// WithTimeoutStrategy sets the round-timeout durations. Defaults to
// DefaultTimeoutParams if omitted.
func WithTimeoutStrategy(s TimeoutStrategy) Opt {
	return func(e *Engine) error { e.timeoutStrategy = s; return nil }
}

// WithValueValidator sets the driver-local value validator used before a
// round trip to the host is needed. Most hosts should instead rely on
// WithValidateValueChannel, which always consults the host; this option is
// for validators that can be checked cheaply in-process (e.g. well-formed
// checks) ahead of the host round trip.
func WithValueValidator(f func(tmconsensus.Value) bool) Opt {
	return func(e *Engine) error { e.localValueValidator = f; return nil }
}

// WithGetValueChannel sets the channel the engine requests a value to
// propose on, when it is this validator's turn to propose and it holds no
// carried-forward valid value. Required for a non-observer engine.
func WithGetValueChannel(ch chan<- tmdriver.GetValueRequest) Opt {
	return func(e *Engine) error { e.getValueCh = ch; return nil }
}

// WithValidateValueChannel sets the channel the engine asks the host to
// application-validate a received value on. Required.
func WithValidateValueChannel(ch chan<- tmdriver.ValidateValueRequest) Opt {
	return func(e *Engine) error { e.validateValueCh = ch; return nil }
}

// WithExtendVoteChannel sets the channel the engine requests a vote
// extension payload on before signing a precommit. Optional: if unset,
// precommits carry no extension.
func WithExtendVoteChannel(ch chan<- tmdriver.ExtendVoteRequest) Opt {
	return func(e *Engine) error { e.extendVoteCh = ch; return nil }
}

// WithVerifyVoteExtensionChannel sets the channel the engine asks the host
// to validate a received precommit's extension on. Optional: if unset,
// extensions are accepted unchecked.
func WithVerifyVoteExtensionChannel(ch chan<- tmdriver.VerifyVoteExtensionRequest) Opt {
	return func(e *Engine) error { e.verifyVoteExtensionCh = ch; return nil }
}

// WithDecideChannel sets the channel the engine hands finished decisions
// to. Required.
func WithDecideChannel(ch chan<- tmdriver.DecideRequest) Opt {
	return func(e *Engine) error { e.decideCh = ch; return nil }
}

// WithGetValidatorSetChannel sets the channel the engine resolves a
// height's validator set from, when it is not already recorded in the
// validator store. Required.
func WithGetValidatorSetChannel(ch chan<- tmdriver.GetValidatorSetRequest) Opt {
	return func(e *Engine) error { e.getValidatorSetCh = ch; return nil }
}
