package prf

import (
	"math"
	"sync"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/abworrall/prfphot/pkg/calib"
)

type cacheItem struct {
	channel int
	shape   Shape
	column  int
	row     int
	ev      *Evaluator
}

func (a cacheItem) Less(than btree.Item) bool {
	b := than.(cacheItem)
	switch {
	case a.channel != b.channel:
		return a.channel < b.channel
	case a.shape.Rows != b.shape.Rows:
		return a.shape.Rows < b.shape.Rows
	case a.shape.Cols != b.shape.Cols:
		return a.shape.Cols < b.shape.Cols
	case a.column != b.column:
		return a.column < b.column
	default:
		return a.row < b.row
	}
}

// A Cache hands out evaluators, only going back to the calibration when
// the stamp has moved more than Tolerance pixels (along either axis) from
// every stamp it has seen on that channel. A near miss gets an evaluator
// with the right pixel coordinates, but the cached neighbour's kernel.
type Cache struct {
	Provider  calib.Provider
	Tolerance int
	Opts      []Option

	Hits   int
	Misses int

	mu   sync.Mutex
	tree *btree.BTree
}

func NewCache(p calib.Provider, tolerance int, opts ...Option) *Cache {
	return &Cache{
		Provider:  p,
		Tolerance: tolerance,
		Opts:      opts,
		tree:      btree.New(8),
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Len()
}

// nearest finds the closest cached evaluator within tolerance
func (c *Cache) nearest(channel, column, row int, shape Shape) *Evaluator {
	lo := cacheItem{channel: channel, shape: shape, column: column - c.Tolerance, row: math.MinInt}
	hi := cacheItem{channel: channel, shape: shape, column: column + c.Tolerance + 1, row: math.MinInt}

	var best *Evaluator
	bestDist := math.MaxInt
	c.tree.AscendRange(lo, hi, func(i btree.Item) bool {
		item := i.(cacheItem)
		dRow := item.row - row
		if dRow < 0 {
			dRow = -dRow
		}
		dCol := item.column - column
		if dCol < 0 {
			dCol = -dCol
		}
		if dRow <= c.Tolerance && dRow+dCol < bestDist {
			best, bestDist = item.ev, dRow+dCol
		}
		return true
	})

	return best
}

func (c *Cache) Get(channel, column, row int, shape Shape) (*Evaluator, error) {
	if !shape.Valid() {
		return NewEvaluator(c.Provider, channel, column, row, shape, c.Opts...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ev := c.nearest(channel, column, row, shape); ev != nil {
		c.Hits++
		if ev.Column == column && ev.Row == row {
			return ev, nil
		}
		return ev.Moved(column, row), nil
	}

	c.Misses++
	ev, err := NewEvaluator(c.Provider, channel, column, row, shape, c.Opts...)
	if err != nil {
		return nil, err
	}
	c.tree.ReplaceOrInsert(cacheItem{channel: channel, shape: shape, column: column, row: row, ev: ev})

	logrus.WithFields(logrus.Fields{"channel": channel, "column": column, "row": row, "shape": shape}).Debug("new PRF evaluator")
	return ev, nil
}
