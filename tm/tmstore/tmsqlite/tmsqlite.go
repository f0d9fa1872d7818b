// Package tmsqlite implements tmstore's interfaces durably on top of
// modernc.org/sqlite, the pure-Go SQLite driver used so the engine needs no
// cgo toolchain to persist its WAL, certificates, and decided chain.
package tmsqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/tm/tmcodec"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmstore"
)

// Store backs every tmstore interface from a single sqlite database,
// mirroring the single-file-store shape the teacher repo's storage layers
// use: one *sql.DB, schema created on open, simple parameterized queries.
type Store struct {
	db       *sql.DB
	mc       tmcodec.MarshalCodec
	vc       tmcodec.ValueCodec
	registry *gcrypto.Registry
}

// Open opens (creating if necessary) a sqlite database at path and ensures
// its schema exists. mc and vc serialize votes/certificates and application
// values respectively; registry decodes the pubkey scheme tag stored
// alongside each validator so LoadValidators can reconstruct tmconsensus.PubKey
// values without knowing the scheme ahead of time.
func Open(path string, mc tmcodec.MarshalCodec, vc tmcodec.ValueCodec, registry *gcrypto.Registry) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tmsqlite: opening database: %w", err)
	}

	s := &Store{db: db, mc: mc, vc: vc, registry: registry}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS wal_entries (
			height INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (height, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS certificates (
			height INTEGER NOT NULL,
			round INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (height, round, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS validators (
			height INTEGER NOT NULL,
			address TEXT NOT NULL,
			scheme TEXT NOT NULL,
			pubkey BLOB NOT NULL,
			power INTEGER NOT NULL,
			PRIMARY KEY (height, address)
		);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			height INTEGER PRIMARY KEY,
			value_payload BLOB NOT NULL,
			certificate_payload BLOB NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("tmsqlite: applying schema: %w", err)
		}
	}
	return nil
}

func (s *Store) walMessage(e tmstore.WALEntry) (tmcodec.Message, error) {
	switch e.Kind {
	case tmstore.WALEntryProposal:
		return tmcodec.Message{Kind: tmcodec.MessageProposal, Proposal: e.Proposal}, nil
	case tmstore.WALEntryVote:
		return tmcodec.Message{Kind: tmcodec.MessageVote, Vote: e.Vote}, nil
	case tmstore.WALEntryCertificate:
		return tmcodec.Message{Kind: tmcodec.MessageCertificate, Certificate: e.Certificate}, nil
	default:
		return tmcodec.Message{}, fmt.Errorf("tmsqlite: scheduled timeouts are not wire-encoded via MarshalCodec")
	}
}

func (s *Store) Append(ctx context.Context, h tmconsensus.Height, e tmstore.WALEntry) error {
	var payload []byte

	if e.Kind == tmstore.WALEntryScheduledTimeout {
		payload = []byte{e.TimeoutStep, byte(e.TimeoutRound), byte(e.TimeoutRound >> 8), byte(e.TimeoutRound >> 16), byte(e.TimeoutRound >> 24)}
	} else {
		m, err := s.walMessage(e)
		if err != nil {
			return err
		}
		b, err := s.mc.MarshalMessage(m)
		if err != nil {
			return fmt.Errorf("tmsqlite: marshaling wal entry: %w", err)
		}
		payload = b
	}

	var seq int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM wal_entries WHERE height = ?`, int64(h))
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("tmsqlite: computing next wal seq: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wal_entries (height, seq, kind, payload) VALUES (?, ?, ?, ?)`,
		int64(h), seq, int(e.Kind), payload,
	)
	if err != nil {
		return fmt.Errorf("tmsqlite: appending wal entry: %w", err)
	}
	return nil
}

func (s *Store) Replay(ctx context.Context, h tmconsensus.Height) ([]tmstore.WALEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, payload FROM wal_entries WHERE height = ? ORDER BY seq ASC`, int64(h),
	)
	if err != nil {
		return nil, fmt.Errorf("tmsqlite: replaying wal: %w", err)
	}
	defer rows.Close()

	var out []tmstore.WALEntry
	for rows.Next() {
		var kind int
		var payload []byte
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("tmsqlite: scanning wal row: %w", err)
		}

		e := tmstore.WALEntry{Kind: tmstore.WALEntryKind(kind)}
		if e.Kind == tmstore.WALEntryScheduledTimeout {
			e.TimeoutStep = payload[0]
			e.TimeoutRound = tmconsensus.Round(uint32(payload[1]) | uint32(payload[2])<<8 | uint32(payload[3])<<16 | uint32(payload[4])<<24)
		} else {
			m, err := s.mc.UnmarshalMessage(payload)
			if err != nil {
				return nil, fmt.Errorf("tmsqlite: unmarshaling wal entry: %w", err)
			}
			e.Proposal, e.Vote, e.Certificate = m.Proposal, m.Vote, m.Certificate
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, h tmconsensus.Height) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wal_entries WHERE height = ?`, int64(h))
	if err != nil {
		return fmt.Errorf("tmsqlite: deleting wal: %w", err)
	}
	return nil
}

func (s *Store) SaveCertificate(ctx context.Context, c tmconsensus.Certificate) error {
	b, err := s.mc.MarshalMessage(tmcodec.Message{Kind: tmcodec.MessageCertificate, Certificate: &c})
	if err != nil {
		return fmt.Errorf("tmsqlite: marshaling certificate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO certificates (height, round, kind, payload) VALUES (?, ?, ?, ?)`,
		int64(c.Height), int64(c.Round), int(c.Kind), b,
	)
	if err != nil {
		return fmt.Errorf("tmsqlite: saving certificate: %w", err)
	}
	return nil
}

func (s *Store) LoadCertificate(
	ctx context.Context, h tmconsensus.Height, r tmconsensus.Round, kind tmconsensus.CertificateKind,
) (tmconsensus.Certificate, error) {
	var payload []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM certificates WHERE height = ? AND round = ? AND kind = ?`,
		int64(h), int64(r), int(kind),
	)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return tmconsensus.Certificate{}, tmconsensus.RoundUnknownError{Height: h, Round: r}
		}
		return tmconsensus.Certificate{}, fmt.Errorf("tmsqlite: loading certificate: %w", err)
	}

	m, err := s.mc.UnmarshalMessage(payload)
	if err != nil {
		return tmconsensus.Certificate{}, fmt.Errorf("tmsqlite: unmarshaling certificate: %w", err)
	}
	return *m.Certificate, nil
}

// schemeNamer is implemented by every concrete tmconsensus.PubKey this repo
// ships (gcrypto/ged25519.PubKey, gcrypto/gbls.PubKey), identifying which
// gcrypto.Registry entry can decode it back from bytes.
type schemeNamer interface {
	SchemeName() string
}

func (s *Store) SaveValidators(ctx context.Context, h tmconsensus.Height, vs tmconsensus.ValidatorSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tmsqlite: beginning validator save transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM validators WHERE height = ?`, int64(h)); err != nil {
		return fmt.Errorf("tmsqlite: clearing prior validators for height: %w", err)
	}

	for _, v := range vs.Validators {
		sn, ok := v.PubKey.(schemeNamer)
		if !ok {
			return fmt.Errorf("tmsqlite: pubkey for %q does not identify its scheme", v.Address)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO validators (height, address, scheme, pubkey, power) VALUES (?, ?, ?, ?, ?)`,
			int64(h), string(v.Address), sn.SchemeName(), v.PubKey.Bytes(), int64(v.Power),
		)
		if err != nil {
			return fmt.Errorf("tmsqlite: inserting validator: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) LoadValidators(ctx context.Context, h tmconsensus.Height) (tmconsensus.ValidatorSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, scheme, pubkey, power FROM validators WHERE height = ?`, int64(h),
	)
	if err != nil {
		return tmconsensus.ValidatorSet{}, fmt.Errorf("tmsqlite: loading validators: %w", err)
	}
	defer rows.Close()

	var vals []tmconsensus.Validator
	for rows.Next() {
		var addr, scheme string
		var pubkeyBytes []byte
		var power int64
		if err := rows.Scan(&addr, &scheme, &pubkeyBytes, &power); err != nil {
			return tmconsensus.ValidatorSet{}, fmt.Errorf("tmsqlite: scanning validator row: %w", err)
		}

		pk, err := s.registry.Decode(scheme, pubkeyBytes)
		if err != nil {
			return tmconsensus.ValidatorSet{}, fmt.Errorf("tmsqlite: decoding pubkey for %q: %w", addr, err)
		}

		vals = append(vals, tmconsensus.Validator{
			Address: tmconsensus.Address(addr), PubKey: pk, Power: uint64(power),
		})
	}
	if err := rows.Err(); err != nil {
		return tmconsensus.ValidatorSet{}, err
	}
	if len(vals) == 0 {
		return tmconsensus.ValidatorSet{}, tmconsensus.HeightUnknownError{Want: h}
	}

	return tmconsensus.NewValidatorSet(vals)
}

func (s *Store) SaveDecision(ctx context.Context, e tmstore.DecidedEntry) error {
	valBytes, err := s.vc.MarshalValue(e.Value)
	if err != nil {
		return fmt.Errorf("tmsqlite: marshaling decided value: %w", err)
	}
	certBytes, err := s.mc.MarshalMessage(tmcodec.Message{Kind: tmcodec.MessageCertificate, Certificate: &e.Certificate})
	if err != nil {
		return fmt.Errorf("tmsqlite: marshaling decision certificate: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO decisions (height, value_payload, certificate_payload) VALUES (?, ?, ?)`,
		int64(e.Height), valBytes, certBytes,
	)
	if err != nil {
		return fmt.Errorf("tmsqlite: saving decision: %w", err)
	}
	return nil
}

func (s *Store) LoadDecision(ctx context.Context, h tmconsensus.Height) (tmstore.DecidedEntry, error) {
	var valBytes, certBytes []byte
	row := s.db.QueryRowContext(ctx, `SELECT value_payload, certificate_payload FROM decisions WHERE height = ?`, int64(h))
	if err := row.Scan(&valBytes, &certBytes); err != nil {
		if err == sql.ErrNoRows {
			return tmstore.DecidedEntry{}, tmconsensus.HeightUnknownError{Want: h}
		}
		return tmstore.DecidedEntry{}, fmt.Errorf("tmsqlite: loading decision: %w", err)
	}

	val, err := s.vc.UnmarshalValue(valBytes)
	if err != nil {
		return tmstore.DecidedEntry{}, fmt.Errorf("tmsqlite: unmarshaling decided value: %w", err)
	}
	m, err := s.mc.UnmarshalMessage(certBytes)
	if err != nil {
		return tmstore.DecidedEntry{}, fmt.Errorf("tmsqlite: unmarshaling decision certificate: %w", err)
	}

	return tmstore.DecidedEntry{Height: h, Value: val, Certificate: *m.Certificate}, nil
}

func (s *Store) LastDecidedHeight(ctx context.Context) (tmconsensus.Height, error) {
	var h sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(height) FROM decisions`)
	if err := row.Scan(&h); err != nil {
		return 0, fmt.Errorf("tmsqlite: loading last decided height: %w", err)
	}
	if !h.Valid {
		return 0, nil
	}
	return tmconsensus.Height(h.Int64), nil
}
