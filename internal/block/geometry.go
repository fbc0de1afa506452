package block

import (
	"errors"
	"fmt"
)

var ErrBadGeometry = errors.New("block: invalid geometry")

// Geometry holds the allocation constants of a data file. They are tuning
// knobs: small enough to limit fragmentation, large enough to always leave
// room for a delete-block header.
type Geometry struct {
	// Align is the granularity of every block length and offset.
	Align uint32
	// MinBlockLen is the smallest block the allocator creates or tracks.
	MinBlockLen uint32
	// MaxBlockLen caps a single block; the delete header stores 24 bits.
	MaxBlockLen uint32
	// SplitLen is the unused tail above which a written block is split and
	// the rest returned to the delete chain.
	SplitLen uint32
	// ExtendLen is the slack a split block keeps for later growth. It is at
	// least MinBlockLen so the kept part of a split is a valid block.
	ExtendLen uint32
}

func DefaultGeometry() Geometry {
	return Geometry{
		Align:       4,
		MinBlockLen: DeleteHeaderLen,
		MaxBlockLen: (1<<24 - 1) &^ 3,
		SplitLen:    48,
		ExtendLen:   20,
	}
}

func (g Geometry) Validate() error {
	switch {
	case g.Align == 0 || g.Align&(g.Align-1) != 0:
		return fmt.Errorf("%w: align %d is not a power of two", ErrBadGeometry, g.Align)
	case g.MinBlockLen < DeleteHeaderLen || g.MinBlockLen%g.Align != 0:
		return fmt.Errorf("%w: min block length %d", ErrBadGeometry, g.MinBlockLen)
	case g.MaxBlockLen > maxU24 || g.MaxBlockLen%g.Align != 0 || g.MaxBlockLen < 2*g.MinBlockLen:
		return fmt.Errorf("%w: max block length %d", ErrBadGeometry, g.MaxBlockLen)
	case g.ExtendLen < g.MinBlockLen || g.ExtendLen%g.Align != 0:
		return fmt.Errorf("%w: extend length %d", ErrBadGeometry, g.ExtendLen)
	case g.SplitLen < g.ExtendLen+g.MinBlockLen || g.SplitLen > 255:
		return fmt.Errorf("%w: split length %d", ErrBadGeometry, g.SplitLen)
	}
	return nil
}

// AlignUp rounds n up to the next multiple of Align.
func (g Geometry) AlignUp(n uint64) uint64 {
	a := uint64(g.Align)
	return (n + a - 1) &^ (a - 1)
}
