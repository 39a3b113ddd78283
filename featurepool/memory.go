package featurepool

import (
	"context"
	"fmt"
	"sync"
)

// MemoryPool keeps a layer in memory, in insertion order.
type MemoryPool struct {
	layer    string
	mu       sync.RWMutex
	order    []int64
	features map[int64]*Feature
}

func NewMemoryPool(layer string, features []*Feature) *MemoryPool {
	p := &MemoryPool{
		layer:    layer,
		features: make(map[int64]*Feature, len(features)),
	}
	for _, f := range features {
		p.add(f.Clone())
	}
	return p
}

func (p *MemoryPool) add(f *Feature) {
	if _, exists := p.features[f.ID]; !exists {
		p.order = append(p.order, f.ID)
	}
	p.features[f.ID] = f
}

func (p *MemoryPool) LayerID() string { return p.layer }

func (p *MemoryPool) IDs(context.Context) ([]int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]int64(nil), p.order...), nil
}

func (p *MemoryPool) Get(_ context.Context, id int64) (*Feature, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.features[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

func (p *MemoryPool) Update(_ context.Context, f *Feature) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.features[f.ID]; !ok {
		return fmt.Errorf("update feature %d in %s: %w", f.ID, p.layer, ErrNotFound)
	}
	p.features[f.ID] = f.Clone()
	return nil
}

// Insert adds or replaces a feature.
func (p *MemoryPool) Insert(f *Feature) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.add(f.Clone())
}

// Delete removes a feature, returning whether it existed.
func (p *MemoryPool) Delete(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.features[id]; !ok {
		return false
	}
	delete(p.features, id)
	for i, fid := range p.order {
		if fid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Features returns copies of all features in insertion order.
func (p *MemoryPool) Features() []*Feature {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Feature, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.features[id].Clone())
	}
	return out
}
