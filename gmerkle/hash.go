// Package gmerkle provides canonical hashing helpers used to implement
// tmconsensus.HashScheme: a stable digest across a validator set, and a
// stable digest across the votes making up a certificate, so that two
// independently-assembled certificates for the same quorum hash identically
// (see spec.md §9, "Certificate canonicalization").
package gmerkle

import (
	"encoding/binary"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// Blake2bHashScheme implements tmconsensus.HashScheme using blake2b-256,
// canonicalizing certificates by sorting their votes by voter address
// before hashing so that two observers who received the same quorum's
// votes in different orders compute identical digests.
type Blake2bHashScheme struct{}

func (Blake2bHashScheme) Validators(vs []tmconsensus.Validator) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	sorted := make([]tmconsensus.Validator, len(vs))
	copy(sorted, vs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	for _, v := range sorted {
		_, _ = h.Write([]byte(v.Address))
		_, _ = h.Write(v.PubKey.Bytes())

		var powBuf [8]byte
		binary.BigEndian.PutUint64(powBuf[:], v.Power)
		_, _ = h.Write(powBuf[:])
	}

	return h.Sum(nil), nil
}

func (Blake2bHashScheme) Certificate(c tmconsensus.Certificate) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	var hdr [8 + 4 + 1]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(c.Height))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(c.Round))
	hdr[12] = byte(c.Kind)
	_, _ = h.Write(hdr[:])
	_, _ = h.Write([]byte(c.ValueID))

	votes := make([]tmconsensus.Vote, len(c.Votes))
	copy(votes, c.Votes)
	sort.Slice(votes, func(i, j int) bool { return votes[i].VoterAddress < votes[j].VoterAddress })

	for _, v := range votes {
		_, _ = h.Write([]byte(v.VoterAddress))
		_, _ = h.Write(v.Signature)
	}

	return h.Sum(nil), nil
}
