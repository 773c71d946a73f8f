package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryGateway is an in-memory Gateway for tests. Safe for concurrent use.
type MemoryGateway struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when set, is returned by every Put. Lets tests simulate
	// storage outages for fallback and retry paths.
	PutErr error
	GetErr error
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{objects: make(map[string][]byte)}
}

func (g *MemoryGateway) Put(_ context.Context, bucket, key string, data []byte) (string, error) {
	if g.PutErr != nil {
		return "", g.PutErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ref := Ref(bucket, key)
	g.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (g *MemoryGateway) Get(_ context.Context, ref string) ([]byte, error) {
	if g.GetErr != nil {
		return nil, g.GetErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.objects[strings.TrimPrefix(ref, "/")]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	return append([]byte(nil), data...), nil
}

func (g *MemoryGateway) GetStream(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	data, err := g.Get(ctx, ref)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (g *MemoryGateway) Delete(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.objects, strings.TrimPrefix(ref, "/"))
	return nil
}

func (g *MemoryGateway) List(_ context.Context, bucket, prefix string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	full := Ref(bucket, prefix)
	var refs []string
	for ref := range g.objects {
		if strings.HasPrefix(ref, full) {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

// Len reports the number of stored objects.
func (g *MemoryGateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.objects)
}

var _ Gateway = (*MemoryGateway)(nil)
