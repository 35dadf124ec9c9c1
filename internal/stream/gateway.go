package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentworkforce/readerstream/internal/reader"
)

var ErrNotUpdatable = errors.New("source does not allow marking all articles read")

// PropertySetter is the write side of the article API.
type PropertySetter interface {
	SetArticleProperty(ctx context.Context, id int64, name string, value bool) error
	MarkSourceRead(ctx context.Context, sourcePath string) error
}

// Sink receives confirmed changes. The Stream implements it.
type Sink interface {
	Submit(batch Batch)
	RefreshSource(source *reader.Source)
}

// Gateway performs per-article property changes against the server. The
// list is only touched after the server confirms, through the same batch
// channel live events use, so a failed change needs no rollback.
type Gateway struct {
	api    PropertySetter
	sink   Sink
	logger Logger
}

func NewGateway(api PropertySetter, sink Sink, logger Logger) *Gateway {
	return &Gateway{api: api, sink: sink, logger: logger}
}

func (g *Gateway) SetProperty(ctx context.Context, id int64, name string, value bool) (bool, error) {
	if id <= 0 {
		return false, fmt.Errorf("set %s: invalid article id %d", name, id)
	}
	if err := g.api.SetArticleProperty(ctx, id, name, value); err != nil {
		g.logf("set %s=%v on article %d failed: %v", name, value, id, err)
		return false, err
	}
	g.sink.Submit(PropertyBatch{
		Name:   name,
		Value:  value,
		Filter: reader.PropertyFilter{IDs: []int64{id}},
	})
	return true, nil
}

// MarkSourceRead marks a whole source read with one request and then
// refetches the source, since the affected ids are not known locally.
func (g *Gateway) MarkSourceRead(ctx context.Context, source *reader.Source) error {
	if !source.Updatable() {
		return fmt.Errorf("mark %s read: %w", source, ErrNotUpdatable)
	}
	if err := g.api.MarkSourceRead(ctx, source.Path()); err != nil {
		g.logf("mark %s read failed: %v", source, err)
		return err
	}
	g.sink.RefreshSource(source)
	return nil
}

func (g *Gateway) logf(format string, args ...any) {
	if g.logger == nil {
		return
	}
	g.logger.Printf(format, args...)
}
