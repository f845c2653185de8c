package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiln-build/kiln/internal/compiler"
)

// HmrEngine relays the compiler's change feed to connected channels. All
// change events are funneled through the single change-processing
// goroutine, so messages reach each channel in the order the events were
// observed.
type HmrEngine struct {
	channel  *HmrChannel
	compiler compiler.Compiler
	graph    *InvalidationGraph
	logger   zerolog.Logger
}

// NewHmrEngine creates the relay between compiler updates and the channel.
func NewHmrEngine(channel *HmrChannel, comp compiler.Compiler, logger zerolog.Logger) *HmrEngine {
	return &HmrEngine{
		channel:  channel,
		compiler: comp,
		graph:    NewInvalidationGraph(),
		logger:   logger,
	}
}

// Handle processes one batch of changed file paths: recompile, refresh the
// invalidation graph, and broadcast the resulting message. A compile
// failure is relayed as an error message rather than silently dropped.
func (e *HmrEngine) Handle(ctx context.Context, paths []string) {
	res, err := e.compiler.Update(ctx, paths)
	if err != nil {
		e.logger.Error().Err(err).Strs("paths", paths).Msg("hot update failed")
		e.channel.Broadcast(HmrMessage{Type: HmrError, Payload: err.Error()})
		return
	}

	e.graph.Apply(res)

	if res.Structural() {
		e.logger.Debug().
			Strs("added", res.Added).
			Strs("removed", res.Removed).
			Msg("structural change, full reload")
		e.channel.Broadcast(HmrMessage{Type: HmrFullReload})
		return
	}

	// a change that maps to no known module means the graph cannot scope
	// the invalidation, so the whole page reloads
	affected := e.graph.Affected(res.Changed)
	if len(affected) == 0 {
		e.channel.Broadcast(HmrMessage{Type: HmrFullReload})
		return
	}

	e.channel.Broadcast(HmrMessage{
		Type:      HmrUpdate,
		ModuleIDs: affected,
		Timestamp: time.Now().UnixMilli(),
	})
	e.logger.Debug().Strs("modules", affected).Int("clients", e.channel.ClientCount()).Msg("hot update broadcast")
}
