package persistence

import (
	"strings"

	"go.uber.org/zap"
)

// Export publishes each model onto target under its public name: the global
// id, then the export name, then the capitalized identity. Names rejected by
// Config.SkipExport are left out. Existing entries of target are kept or
// overwritten, never removed. A nil collections exports the connected models
// and a nil target is the facade namespace returned by Exports.
func (p *Persistence) Export(collections map[string]*Model, target Namespace) {
	if collections == nil {
		collections = p.Models()
	}
	skip := p.cfg.SkipExport
	if skip == nil {
		skip = IsJunctionName
	}

	if target == nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		target = p.exports
	}
	for id, m := range collections {
		name := m.ExportName()
		if skip(name) {
			p.logger.Debug("skipping export", zap.String("identity", id), zap.String("name", name))
			continue
		}
		target[name] = m
	}
}

// Exports returns a copy of the facade namespace.
func (p *Persistence) Exports() Namespace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(Namespace, len(p.exports))
	for name, m := range p.exports {
		out[name] = m
	}
	return out
}

// IsJunctionName reports whether name looks like an ORM generated junction
// table: a hyphen as the fifth character, or a double underscore separator.
func IsJunctionName(name string) bool {
	return (len(name) > 4 && name[4] == '-') || strings.Contains(name, "__")
}
