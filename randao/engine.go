package randao

import (
	"encoding/binary"
	"sync"

	viperutil "github.com/Conflux-Chain/go-conflux-util/viper"
	"github.com/canvasart/tracker/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Config holds the round finalization policy.
type Config struct {
	// Minimum number of reveals for a round to finalize. Zero requires every
	// committed participant of the round to reveal.
	MinReveals uint64 `default:"0"`
}

// Engine tracks commit-reveal rounds and derives mint seeds from finalized
// round values. Round state is derived state: it is rebuilt from the durable
// commit records on restart and after reorg rollback.
type Engine struct {
	mu sync.RWMutex

	conf   *Config
	rounds map[uint64]*Round
}

func NewEngine(conf *Config) *Engine {
	return &Engine{
		conf:   conf,
		rounds: make(map[uint64]*Round),
	}
}

// MustNewEngineFromViper creates a randao engine with viper settings.
func MustNewEngineFromViper() *Engine {
	var conf Config
	viperutil.MustUnmarshalKey("randao", &conf)

	return NewEngine(&conf)
}

func (e *Engine) getOrCreateRound(round uint64) *Round {
	r, ok := e.rounds[round]
	if !ok {
		r = newRound()
		e.rounds[round] = r
	}

	return r
}

// Commit applies a participant commitment to the specified round.
func (e *Engine) Commit(round uint64, participant common.Address, hash common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.getOrCreateRound(round).Commit(participant, hash)
}

// Reveal applies a participant secret reveal to the specified round.
func (e *Engine) Reveal(round uint64, participant common.Address, secret common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[round]
	if !ok {
		return ErrNotCommitted
	}

	return r.Reveal(participant, secret)
}

// FinalizedSeed returns the finalized random value of a round, or false if
// the round has not met its reveal quorum yet.
func (e *Engine) FinalizedSeed(round uint64) (common.Hash, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rounds[round]
	if !ok || !r.Finalized(e.conf.MinReveals) {
		return common.Hash{}, false
	}

	return r.Accumulator(), true
}

// SeedForToken derives the mint seed of a token from its randao round. If the
// round is not finalized yet, a deterministic placeholder seed is returned
// with final=false; callers must treat such seeds as provisional.
func (e *Engine) SeedForToken(round, tokenID uint64) (seed common.Hash, final bool) {
	var tokenBytes [8]byte
	binary.BigEndian.PutUint64(tokenBytes[:], tokenID)

	if acc, ok := e.FinalizedSeed(round); ok {
		return crypto.Keccak256Hash(acc.Bytes(), tokenBytes[:]), true
	}

	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], round)

	return crypto.Keccak256Hash([]byte("provisional"), roundBytes[:], tokenBytes[:]), false
}

// Clone returns a deep copy of the engine. Writers stage round mutations on
// a clone and publish it only once the enclosing db transaction committed,
// so concurrent readers never observe uncommitted round state.
func (e *Engine) Clone() *Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cloned := NewEngine(e.conf)

	for id, r := range e.rounds {
		cr := newRound()
		cr.accumulator = r.accumulator
		cr.revealCount = r.revealCount

		for participant, commit := range r.commits {
			cc := *commit
			cr.commits[participant] = &cc
		}

		cloned.rounds[id] = cr
	}

	return cloned
}

// Reset rebuilds the whole engine state from durable commit records, eg. on
// restart or after blocks were popped due to chain re-org.
func (e *Engine) Reset(records []*store.RandaoCommitRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rounds = make(map[uint64]*Round)

	for _, rec := range records {
		r := e.getOrCreateRound(rec.Round)

		commit := &Commit{Hash: rec.Commitment}
		r.commits[rec.Participant] = commit

		if !rec.Revealed {
			continue
		}

		commit.Secret = rec.Secret
		commit.Revealed = true
		r.revealCount++

		for i := range r.accumulator {
			r.accumulator[i] ^= rec.Secret[i]
		}
	}
}
