package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"graphdesk/api/internal/graph"
	"graphdesk/api/internal/ontology"
	"graphdesk/api/internal/visibility"
	"graphdesk/api/internal/workqueue"
)

// Titler computes the display title indexed for a vertex.
type Titler interface {
	Title(v *graph.Vertex, locale, timeZone string) string
}

// Source delivers work queue messages to the indexer.
type Source interface {
	Pop(ctx context.Context, priority workqueue.Priority, timeout time.Duration) (workqueue.Message, bool, error)
	Subscribe(ctx context.Context, fn func(workqueue.Message)) error
}

// Indexer keeps the index in step with the public graph. Every message
// is treated as a hint: the vertex is reloaded with no authorizations
// and indexed or removed according to what a public reader sees.
type Indexer struct {
	graph    *graph.Graph
	index    Index
	ontology *ontology.Registry
	titles   Titler
	log      zerolog.Logger
}

func NewIndexer(g *graph.Graph, index Index, reg *ontology.Registry, titles Titler, log zerolog.Logger) *Indexer {
	return &Indexer{
		graph:    g,
		index:    index,
		ontology: reg,
		titles:   titles,
		log:      log.With().Str("component", "indexer").Logger(),
	}
}

// Handle reconciles every vertex msg refers to.
func (x *Indexer) Handle(ctx context.Context, msg workqueue.Message) error {
	var errs []error
	for _, id := range vertexIDs(msg) {
		if err := x.Reindex(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("reindex %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Reindex loads the public view of vertexID and writes it to the index.
func (x *Indexer) Reindex(ctx context.Context, vertexID string) error {
	v, err := x.graph.GetVertex(ctx, vertexID, graph.FetchDefault, visibility.NewAuthorizations())
	if errors.Is(err, graph.ErrNotFound) {
		return x.index.DeleteVertex(ctx, vertexID)
	}
	if err != nil {
		return err
	}
	return x.index.IndexVertex(ctx, x.record(v))
}

func (x *Indexer) record(v *graph.Vertex) Record {
	concept, _ := v.PropertyValue(ontology.ConceptType).(string)
	var text []string
	for _, p := range v.Properties {
		if p.Name == ontology.Title || !x.ontology.IsUserVisible(p.Name) {
			continue
		}
		s, ok := p.Value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		text = append(text, s)
	}
	return Record{
		ID:          documentID(v.ID),
		VertexID:    v.ID,
		ConceptType: concept,
		Title:       x.titles.Title(v, "", ""),
		Text:        text,
	}
}

// Run consumes queued and broadcast messages until ctx is done. A failed
// subscription stops both loops.
func (x *Indexer) Run(ctx context.Context, src Source) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.Subscribe(ctx, func(msg workqueue.Message) {
			if err := x.Handle(ctx, msg); err != nil {
				x.log.Warn().Err(err).Str("type", string(msg.Kind)).Msg("broadcast reindex failed")
			}
		})
	})
	g.Go(func() error {
		x.drain(ctx, src)
		return nil
	})
	return g.Wait()
}

// drain pops the highest priority message available, one at a time.
func (x *Indexer) drain(ctx context.Context, src Source) {
	priorities := []workqueue.Priority{workqueue.PriorityHigh, workqueue.PriorityNormal, workqueue.PriorityLow}
	for ctx.Err() == nil {
		for _, p := range priorities {
			msg, ok, err := src.Pop(ctx, p, time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				x.log.Error().Err(err).Str("priority", string(p)).Msg("queue pop failed")
				time.Sleep(time.Second)
				break
			}
			if !ok {
				continue
			}
			if err := x.Handle(ctx, msg); err != nil {
				x.log.Warn().Err(err).Str("type", string(msg.Kind)).Msg("reindex failed")
			}
			break
		}
	}
}

func vertexIDs(msg workqueue.Message) []string {
	seen := map[string]struct{}{}
	if msg.ElementType == string(graph.ElementTypeVertex) && msg.ElementID != "" {
		seen[msg.ElementID] = struct{}{}
	}
	for _, id := range msg.VertexIDs {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
