package rotation

import (
	"math/bits"

	"github.com/thoreinstein/backsnap/internal/errors"
)

// MaxLevels bounds the number of levels so that every period fits in a
// uint64 with room to spare.
const MaxLevels = 62

// NoReference is the Reference of a Plan that needs a full copy.
const NoReference = -1

// Plan is the outcome of scheduling one run.
type Plan struct {
	// Counter is the counter value this run consumes.
	Counter uint64

	// Level is the level directory to write.
	Level int

	// Reference is the level to hardlink unchanged files from, or
	// NoReference.
	Reference int

	// ReferenceCounter is the counter value at which Reference was last
	// written. It is meaningful only when HasReference is true.
	ReferenceCounter uint64

	// MaxLevels is the depth the plan was computed for.
	MaxLevels int
}

// HasReference reports whether the run can hardlink against a prior level.
func (p Plan) HasReference() bool {
	return p.Reference != NoReference
}

// ValidateMaxLevels rejects depths outside [1, MaxLevels].
func ValidateMaxLevels(maxLevels int) error {
	if maxLevels < 1 || maxLevels > MaxLevels {
		return errors.Mark(
			errors.Newf("MAXBACKUPS must be between 1 and %d, got %d", MaxLevels, maxLevels),
			errors.ErrConfiguration)
	}
	return nil
}

// Level returns the level written for counter. maxLevels must be valid.
func Level(counter uint64, maxLevels int) int {
	ones := bits.TrailingZeros64(^counter)
	if ones > maxLevels-1 {
		return maxLevels - 1
	}
	return ones
}

// period returns the period and the first counter of level under
// maxLevels.
func period(level, maxLevels int) (p, offset uint64) {
	if level == maxLevels-1 {
		p = uint64(1) << uint(level)
		return p, p - 1
	}
	p = uint64(1) << uint(level+1)
	return p, uint64(1)<<uint(level) - 1
}

// LastWritten returns the last counter below counter at which level was
// written, and false if level has not been written yet.
func LastWritten(level int, counter uint64, maxLevels int) (uint64, bool) {
	p, offset := period(level, maxLevels)
	if counter <= offset {
		return 0, false
	}
	return offset + ((counter-1-offset)/p)*p, true
}

// Next schedules the run for counter. exists reports whether a level
// directory is present; a nil exists treats every written level as
// present. The reference is the most recently written other level whose
// directory still exists.
func Next(counter uint64, maxLevels int, exists func(level int) bool) (Plan, error) {
	if err := ValidateMaxLevels(maxLevels); err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Counter:   counter,
		Level:     Level(counter, maxLevels),
		Reference: NoReference,
		MaxLevels: maxLevels,
	}

	for k := 0; k < maxLevels; k++ {
		if k == plan.Level {
			continue
		}
		at, ok := LastWritten(k, counter, maxLevels)
		if !ok {
			continue
		}
		if plan.HasReference() && at <= plan.ReferenceCounter {
			continue
		}
		if exists != nil && !exists(k) {
			continue
		}
		plan.Reference = k
		plan.ReferenceCounter = at
	}

	return plan, nil
}

// Schedule returns the levels written by n consecutive runs starting at
// counter.
func Schedule(counter uint64, n, maxLevels int) ([]int, error) {
	if err := ValidateMaxLevels(maxLevels); err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	levels := make([]int, n)
	for i := range levels {
		levels[i] = Level(counter+uint64(i), maxLevels)
	}
	return levels, nil
}
