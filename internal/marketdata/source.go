package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Source loads curated per-symbol frames
// ⭐ SSOT: 엔진들은 이 인터페이스로만 큐레이션 데이터에 접근
//
// Load returns the rows dated on or before asOf. It returns ErrNotFound when
// the symbol has no dataset and ErrEmptyDataset when nothing is left after
// truncation.
type Source interface {
	Load(ctx context.Context, symbol string, asOf time.Time) (Frame, error)
}

// MemorySource serves frames held in memory
type MemorySource struct {
	mu     sync.RWMutex
	frames map[string]Frame
}

// NewMemorySource creates a MemorySource seeded with frames
func NewMemorySource(frames ...Frame) *MemorySource {
	s := &MemorySource{frames: make(map[string]Frame, len(frames))}
	for _, f := range frames {
		s.frames[strings.ToUpper(f.Symbol)] = f
	}
	return s
}

// Put adds or replaces the frame of a symbol
func (s *MemorySource) Put(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[strings.ToUpper(frame.Symbol)] = frame
}

// Symbols lists the stored symbols in sorted order
func (s *MemorySource) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.frames))
	for sym := range s.frames {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Load implements Source
func (s *MemorySource) Load(_ context.Context, symbol string, asOf time.Time) (Frame, error) {
	s.mu.RLock()
	frame, ok := s.frames[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if !ok {
		return Frame{}, fmt.Errorf("%w: %s", ErrNotFound, strings.ToUpper(symbol))
	}
	return truncate(frame, asOf)
}

func truncate(frame Frame, asOf time.Time) (Frame, error) {
	out := frame.Until(asOf)
	if out.Empty() {
		return Frame{}, fmt.Errorf("%w: %s on or before %s", ErrEmptyDataset, frame.Symbol, NormalizeDate(asOf).Format(DateLayout))
	}
	return out, nil
}
