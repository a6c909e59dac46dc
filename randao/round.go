package randao

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	ErrAlreadyCommitted = errors.New("participant already committed")
	ErrNotCommitted     = errors.New("participant has no commit")
	ErrInvalidSecret    = errors.New("secret does not match commitment")
)

// Commit is the per-participant state of a round. A participant moves
// NoCommit -> Committed -> Revealed, one way only.
type Commit struct {
	Hash     common.Hash
	Secret   common.Hash
	Revealed bool
}

// Round accumulates the commit-reveal state of one randomness round. Every
// participant commits to keccak256(secret) before any secret is revealed, so
// no late participant can bias the XOR outcome. Not thread safe.
type Round struct {
	commits     map[common.Address]*Commit
	accumulator common.Hash // XOR of all revealed secrets
	revealCount uint64
}

func newRound() *Round {
	return &Round{commits: make(map[common.Address]*Commit)}
}

// Commitment computes the commitment hash of a secret.
func Commitment(secret common.Hash) common.Hash {
	return crypto.Keccak256Hash(secret.Bytes())
}

// Commit stores the commitment of a participant. Re-committing while already
// committed or revealed fails with ErrAlreadyCommitted.
func (r *Round) Commit(participant common.Address, hash common.Hash) error {
	if _, ok := r.commits[participant]; ok {
		return errors.WithMessagef(ErrAlreadyCommitted, "participant %v", participant)
	}

	r.commits[participant] = &Commit{Hash: hash}
	return nil
}

// Reveal verifies and applies a revealed secret. A wrong secret never changes
// state, so griefing reveals cannot corrupt the round. Re-revealing the
// correct secret is a no-op.
func (r *Round) Reveal(participant common.Address, secret common.Hash) error {
	commit, ok := r.commits[participant]
	if !ok {
		return errors.WithMessagef(ErrNotCommitted, "participant %v", participant)
	}

	if Commitment(secret) != commit.Hash {
		return errors.WithMessagef(ErrInvalidSecret, "participant %v", participant)
	}

	if commit.Revealed {
		return nil
	}

	commit.Secret = secret
	commit.Revealed = true
	r.revealCount++

	for i := range r.accumulator {
		r.accumulator[i] ^= secret[i]
	}

	return nil
}

// State reports the commit state of a participant.
func (r *Round) State(participant common.Address) (commit *Commit, ok bool) {
	commit, ok = r.commits[participant]
	return
}

func (r *Round) NumCommits() uint64 {
	return uint64(len(r.commits))
}

func (r *Round) NumReveals() uint64 {
	return r.revealCount
}

// Finalized checks whether enough participants revealed for the accumulator
// to be a valid random value. A zero minReveals requires every committed
// participant to reveal.
func (r *Round) Finalized(minReveals uint64) bool {
	if len(r.commits) == 0 {
		return false
	}

	if minReveals == 0 {
		return r.revealCount == uint64(len(r.commits))
	}

	return r.revealCount >= minReveals
}

// Accumulator returns the XOR of all revealed secrets so far. It is a valid
// finalized random value only if Finalized reports true.
func (r *Round) Accumulator() common.Hash {
	return r.accumulator
}
