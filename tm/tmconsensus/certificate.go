package tmconsensus

import "fmt"

// CertificateKind distinguishes a polka certificate (prevotes) from a
// commit certificate (precommits).
type CertificateKind uint8

const (
	_ CertificateKind = iota
	PolkaCertificate
	CommitCertificate
)

func (k CertificateKind) String() string {
	switch k {
	case PolkaCertificate:
		return "Polka"
	case CommitCertificate:
		return "Commit"
	default:
		return fmt.Sprintf("CertificateKind(%d)", uint8(k))
	}
}

func (k CertificateKind) voteType() VoteType {
	if k == CommitCertificate {
		return Precommit
	}
	return Prevote
}

// Certificate witnesses that a quorum of voting power (>2/3 of total) voted
// for the same (Height, Round, ValueID). A Polka certificate is built from
// prevotes; a Commit certificate is built from precommits and is the
// externally-verifiable proof that a height decided.
type Certificate struct {
	Kind CertificateKind

	Height  Height
	Round   Round
	ValueID ValueID

	Votes []Vote
}

// Validate checks the validity predicate from spec §3.2:
//
//  1. every vote shares (Height, Round, Type, ValueID);
//  2. ValueID is not nil;
//  3. summed voter power exceeds 2/3 of the validator set's total power;
//  4. no voter appears twice;
//  5. every vote carries a verifiable signature.
func (c Certificate) Validate(vs ValidatorSet, sigScheme SignatureScheme) error {
	if c.ValueID.IsNil() {
		return fmt.Errorf("%w: certificate value id is nil", ErrInvalidCertificate)
	}
	if len(c.Votes) == 0 {
		return fmt.Errorf("%w: certificate has no votes", ErrInvalidCertificate)
	}

	wantType := c.Kind.voteType()

	seen := make(map[Address]struct{}, len(c.Votes))
	var power uint64
	for _, v := range c.Votes {
		if v.Type != wantType {
			return fmt.Errorf("%w: vote type %s does not match certificate kind %s", ErrInvalidCertificate, v.Type, c.Kind)
		}
		if v.Height != c.Height || v.Round != c.Round {
			return fmt.Errorf("%w: vote (h=%d,r=%d) does not match certificate (h=%d,r=%d)",
				ErrInvalidCertificate, v.Height, v.Round, c.Height, c.Round)
		}
		if v.ValueID != c.ValueID {
			return fmt.Errorf("%w: vote value id %q does not match certificate value id %q",
				ErrInvalidCertificate, v.ValueID, c.ValueID)
		}
		if _, dup := seen[v.VoterAddress]; dup {
			return fmt.Errorf("%w: voter %q appears more than once", ErrInvalidCertificate, v.VoterAddress)
		}
		seen[v.VoterAddress] = struct{}{}

		val, ok := vs.Lookup(v.VoterAddress)
		if !ok {
			return fmt.Errorf("%w: voter %q is not in the validator set", ErrInvalidCertificate, v.VoterAddress)
		}

		msg, err := sigScheme.VoteSignBytes(v)
		if err != nil {
			return fmt.Errorf("%w: building sign bytes: %v", ErrInvalidCertificate, err)
		}
		if !val.PubKey.Verify(msg, v.Signature) {
			return fmt.Errorf("%w: invalid signature from %q", ErrInvalidCertificate, v.VoterAddress)
		}

		power += val.Power
	}

	total := vs.TotalPower()
	if !(power*3 > total*2) {
		return fmt.Errorf("%w: voting power %d does not exceed 2/3 of total %d", ErrInvalidCertificate, power, total)
	}

	return nil
}
