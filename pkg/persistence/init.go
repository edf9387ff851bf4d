package persistence

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/rzpsarthak13/persistence/internal/events"
	"github.com/rzpsarthak13/persistence/internal/loader"
)

// EventContextInvalidated is emitted on the host after a reload replaced the
// published models.
const EventContextInvalidated = "context.invalidated"

// Host is the application that embeds the facade.
type Host interface {
	// Logger returns a named logger.
	Logger(name string) *zap.Logger

	// Publish makes a named value available to the rest of the host.
	Publish(name string, value any)

	// Emit receives model events.
	Emit(eventType string, payload any)
}

// Init creates a facade for host, connects it and publishes "models" and
// "iterateModels". The host is the default logger source and event
// dispatcher; opts override both. With Config.Watch set, changes to the
// models directory reload the facade, after which the models are published
// again and the host receives "context.invalidated".
func Init(ctx context.Context, host Host, cfg *Config, opts ...Option) (*Persistence, error) {
	logger := host.Logger("persistence")
	base := []Option{WithLogger(logger), WithDispatcher(host)}
	p, err := New(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	p.On(events.EventType(p.cfg.EventTypePrefix, EventReloaded), func(string, any) {
		publish(host, p)
		host.Emit(EventContextInvalidated, nil)
	})

	if _, err := p.Connect(ctx); err != nil {
		_ = p.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	publish(host, p)

	if p.cfg.Watch {
		if err := Watch(ctx, p); err != nil {
			_ = p.Close(context.WithoutCancel(ctx))
			return nil, err
		}
	}
	return p, nil
}

// publish hands the host the models under their identities and their export
// names, and the iterator.
func publish(host Host, p *Persistence) {
	models := make(Namespace)
	for name, m := range p.Exports() {
		models[name] = m
	}
	for id, m := range p.Models() {
		models[id] = m
	}
	host.Publish("models", models)
	host.Publish("iterateModels", p.IterateModels)
}

// Watch reloads p whenever the model files of Config.ModelsDir change. The
// watch ends when p closes.
func Watch(ctx context.Context, p *Persistence) error {
	logger := p.logger
	pattern, err := regexp.Compile(p.cfg.pattern())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	w, err := loader.NewWatcher(p.cfg.ModelsDir, pattern, 0, logger.Named("watcher"), func(ctx context.Context) {
		if _, err := p.Reload(ctx); err != nil {
			logger.Error("reload after model change failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		_ = w.Stop()
		return err
	}
	p.OnClose(w.Stop)
	return nil
}
