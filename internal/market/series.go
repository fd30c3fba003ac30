package market

import (
	"errors"
	"fmt"
)

// ErrEmptyDataset is returned when no bars are available for any asset.
var ErrEmptyDataset = errors.New("empty dataset: no bars available")

// Series is an immutable per-asset ordered sequence of bars. The asset
// enumeration order is fixed at construction and is the order used for
// observation layout and QTable asset indexing.
type Series struct {
	assets []AssetID
	index  map[AssetID]int
	bars   [][]Bar
	total  int
}

// NewSeries copies bars for the given assets in the given order. Every
// listed asset must have at least one bar and must appear once.
func NewSeries(assets []AssetID, bars map[AssetID][]Bar) (*Series, error) {
	if len(assets) == 0 {
		return nil, ErrEmptyDataset
	}
	s := &Series{
		assets: make([]AssetID, 0, len(assets)),
		index:  make(map[AssetID]int, len(assets)),
		bars:   make([][]Bar, 0, len(assets)),
	}
	for _, id := range assets {
		if id == "" {
			return nil, fmt.Errorf("series: asset id cannot be empty")
		}
		if _, dup := s.index[id]; dup {
			return nil, fmt.Errorf("series: duplicate asset %s", id)
		}
		src := bars[id]
		if len(src) == 0 {
			return nil, fmt.Errorf("series: asset %s has no bars: %w", id, ErrEmptyDataset)
		}
		for i, b := range src {
			if !b.valid() {
				return nil, fmt.Errorf("series: asset %s bar %d has negative field", id, i)
			}
		}
		cp := make([]Bar, len(src))
		copy(cp, src)
		s.index[id] = len(s.assets)
		s.assets = append(s.assets, id)
		s.bars = append(s.bars, cp)
		s.total += len(cp)
	}
	return s, nil
}

// Assets returns a copy of the stable asset enumeration.
func (s *Series) Assets() []AssetID {
	out := make([]AssetID, len(s.assets))
	copy(out, s.assets)
	return out
}

func (s *Series) NumAssets() int { return len(s.assets) }

// TotalRows is the number of bars across all assets.
func (s *Series) TotalRows() int { return s.total }

// NumSteps is floor(total_rows / num_assets), the shared step count.
func (s *Series) NumSteps() int {
	if len(s.assets) == 0 {
		return 0
	}
	return s.total / len(s.assets)
}

// IndexOf returns the enumeration index of an asset.
func (s *Series) IndexOf(id AssetID) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Len returns the number of bars recorded for the asset at index i.
func (s *Series) Len(i int) int {
	if i < 0 || i >= len(s.bars) {
		return 0
	}
	return len(s.bars[i])
}

// At returns the bar of asset i at step. Past the asset's last bar the last
// bar is reused and stale is true.
func (s *Series) At(i, step int) (bar Bar, stale bool) {
	rows := s.bars[i]
	if step < 0 {
		step = 0
	}
	if step >= len(rows) {
		return rows[len(rows)-1], true
	}
	return rows[step], false
}
