// Package ensemble grows collections of relational trees: bagged forests
// built in parallel and gradient boosted sequences.
package ensemble

import (
	"errors"
	"math/rand"
)

// ErrInvalidOptions is returned for ensemble options that cannot be used.
var ErrInvalidOptions = errors.New("invalid ensemble options")

// seedBound caps the seeds handed out to trees and resampling.
const seedBound = 12345

// seeds derives independent seed streams from one master seed. Each
// stream is consumed in order, so the ensemble built from a seed does not
// depend on scheduling.
type seeds struct {
	tree      *rand.Rand
	bootstrap *rand.Rand
	rows      *rand.Rand
}

func newSeeds(seed int64) *seeds {
	meta := rand.New(rand.NewSource(seed))
	next := func() *rand.Rand {
		return rand.New(rand.NewSource(meta.Int63n(seedBound)))
	}
	return &seeds{tree: next(), bootstrap: next(), rows: next()}
}

func (s *seeds) nextTree() int64      { return s.tree.Int63n(seedBound) }
func (s *seeds) nextBootstrap() int64 { return s.bootstrap.Int63n(seedBound) }
func (s *seeds) nextRows() int64      { return s.rows.Int63n(seedBound) }
