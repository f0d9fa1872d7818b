// Package tmmemstore implements tmstore's interfaces in memory, guarded by
// a single mutex, for tests and short-lived fixtures. It holds nothing
// across a process restart, so it must never back a production node's WAL.
package tmmemstore

import (
	"context"
	"sync"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmstore"
)

type WALStore struct {
	mu      sync.Mutex
	entries map[tmconsensus.Height][]tmstore.WALEntry
	closed  bool
}

func NewWALStore() *WALStore {
	return &WALStore{entries: make(map[tmconsensus.Height][]tmstore.WALEntry)}
}

func (s *WALStore) Append(_ context.Context, h tmconsensus.Height, e tmstore.WALEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tmstore.ErrWalClosed
	}
	s.entries[h] = append(s.entries[h], e)
	return nil
}

func (s *WALStore) Replay(_ context.Context, h tmconsensus.Height) ([]tmstore.WALEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tmstore.WALEntry, len(s.entries[h]))
	copy(out, s.entries[h])
	return out, nil
}

func (s *WALStore) Delete(_ context.Context, h tmconsensus.Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, h)
	return nil
}

type CertificateStore struct {
	mu    sync.Mutex
	certs map[certKey]tmconsensus.Certificate
}

type certKey struct {
	h    tmconsensus.Height
	r    tmconsensus.Round
	kind tmconsensus.CertificateKind
}

func NewCertificateStore() *CertificateStore {
	return &CertificateStore{certs: make(map[certKey]tmconsensus.Certificate)}
}

func (s *CertificateStore) SaveCertificate(_ context.Context, c tmconsensus.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[certKey{c.Height, c.Round, c.Kind}] = c
	return nil
}

func (s *CertificateStore) LoadCertificate(
	_ context.Context, h tmconsensus.Height, r tmconsensus.Round, kind tmconsensus.CertificateKind,
) (tmconsensus.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certs[certKey{h, r, kind}]
	if !ok {
		return tmconsensus.Certificate{}, tmconsensus.RoundUnknownError{Height: h, Round: r}
	}
	return c, nil
}

type ValidatorStore struct {
	mu   sync.Mutex
	sets map[tmconsensus.Height]tmconsensus.ValidatorSet
}

func NewValidatorStore() *ValidatorStore {
	return &ValidatorStore{sets: make(map[tmconsensus.Height]tmconsensus.ValidatorSet)}
}

func (s *ValidatorStore) SaveValidators(_ context.Context, h tmconsensus.Height, vs tmconsensus.ValidatorSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[h] = vs
	return nil
}

func (s *ValidatorStore) LoadValidators(_ context.Context, h tmconsensus.Height) (tmconsensus.ValidatorSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok := s.sets[h]
	if !ok {
		return tmconsensus.ValidatorSet{}, tmconsensus.HeightUnknownError{Want: h}
	}
	return vs, nil
}

type ChainStore struct {
	mu      sync.Mutex
	entries map[tmconsensus.Height]tmstore.DecidedEntry
	last    tmconsensus.Height
}

func NewChainStore() *ChainStore {
	return &ChainStore{entries: make(map[tmconsensus.Height]tmstore.DecidedEntry)}
}

func (s *ChainStore) SaveDecision(_ context.Context, e tmstore.DecidedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Height] = e
	if e.Height > s.last {
		s.last = e.Height
	}
	return nil
}

func (s *ChainStore) LoadDecision(_ context.Context, h tmconsensus.Height) (tmstore.DecidedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[h]
	if !ok {
		return tmstore.DecidedEntry{}, tmconsensus.HeightUnknownError{Want: h}
	}
	return e, nil
}

func (s *ChainStore) LastDecidedHeight(_ context.Context) (tmconsensus.Height, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}
