// Package history loads bar ranges wider than a single gateway query
// comfortably serves, splitting the range into chunks and stitching the
// results back into one ordered sequence.
package history

import (
	"fmt"
	"time"

	"quantgate/internal/domain"
)

// Source is the gateway surface the loader drains.
type Source interface {
	QueryHistory(req domain.HistoryRequest) ([]domain.BarData, error)
}

// Default number of bars requested per chunk.
const defaultChunkBars = 5000

// Loader fetches wide historical ranges chunk by chunk.
type Loader struct {
	source    Source
	chunkBars int
}

// NewLoader builds a loader over source. chunkBars <= 0 selects the default.
func NewLoader(source Source, chunkBars int) *Loader {
	if chunkBars <= 0 {
		chunkBars = defaultChunkBars
	}
	return &Loader{source: source, chunkBars: chunkBars}
}

// Load returns all bars in [req.Start, req.End], strictly ascending with no
// duplicate timestamps. Chunks overlap by nothing; consecutive chunk edges
// are deduplicated defensively anyway.
func (l *Loader) Load(req domain.HistoryRequest) ([]domain.BarData, error) {
	step := req.Interval.Duration()
	if step <= 0 {
		return nil, fmt.Errorf("history load: unknown interval %q", req.Interval)
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("history load: empty range %s..%s", req.Start, req.End)
	}

	chunkSpan := step * time.Duration(l.chunkBars)
	var out []domain.BarData

	for start := req.Start; start.Before(req.End); start = start.Add(chunkSpan) {
		end := start.Add(chunkSpan - step)
		if end.After(req.End) {
			end = req.End
		}
		bars, err := l.source.QueryHistory(domain.HistoryRequest{
			Symbol:   req.Symbol,
			Interval: req.Interval,
			Start:    start,
			End:      end,
		})
		if err != nil {
			return nil, fmt.Errorf("history load %s %s..%s: %w", req.Symbol, start, end, err)
		}
		for _, b := range bars {
			if len(out) > 0 && !out[len(out)-1].Time.Before(b.Time) {
				continue
			}
			out = append(out, b)
		}
	}
	return out, nil
}
