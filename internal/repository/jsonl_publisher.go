package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
)

// JSONLinesPublisher writes each intent as one JSON line. Replay uses it in
// place of Kafka.
type JSONLinesPublisher struct {
	mu  sync.Mutex
	enc *json.Encoder
	n   int
}

func NewJSONLinesPublisher(w io.Writer) *JSONLinesPublisher {
	return &JSONLinesPublisher{enc: json.NewEncoder(w)}
}

var _ domrepo.SignalPublisher = (*JSONLinesPublisher)(nil)

func (p *JSONLinesPublisher) PublishIntent(_ context.Context, in models.OrderIntent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(in); err != nil {
		return fmt.Errorf("write intent %s: %w", in.Signal.ID, err)
	}
	p.n++
	return nil
}

// Written returns how many intents were written.
func (p *JSONLinesPublisher) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func (p *JSONLinesPublisher) Close() error { return nil }
