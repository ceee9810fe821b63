package repository

import (
	"context"
	"sync"
	"time"
)

// maxInMemoryRecords bounds the in-memory log so long-running processes
// without a database do not grow unbounded.
const maxInMemoryRecords = 1000

type InMemoryGenerationLog struct {
	mu      sync.Mutex
	records []GenerationRecord
}

func NewInMemoryGenerationLog() *InMemoryGenerationLog {
	return &InMemoryGenerationLog{}
}

func (r *InMemoryGenerationLog) Record(ctx context.Context, record GenerationRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, record)
	if len(r.records) > maxInMemoryRecords {
		r.records = r.records[len(r.records)-maxInMemoryRecords:]
	}
	return nil
}

func (r *InMemoryGenerationLog) Recent(ctx context.Context, limit int) ([]GenerationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit > len(r.records) {
		limit = len(r.records)
	}

	// Newest first, matching the Postgres query.
	result := make([]GenerationRecord, 0, limit)
	for i := len(r.records) - 1; i >= len(r.records)-limit; i-- {
		result = append(result, r.records[i])
	}
	return result, nil
}
