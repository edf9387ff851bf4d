package persistence

import (
	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/events"
	"github.com/rzpsarthak13/persistence/internal/model"
	"github.com/rzpsarthak13/persistence/internal/orm"
	"github.com/rzpsarthak13/persistence/internal/sink"
)

// Types callers need to define models and consume events.
type (
	Definition = model.Definition
	Attributes = model.Attributes
	FieldSpec  = model.FieldSpec
	Generator  = model.Generator
	Model      = model.Model

	Record   = core.Record
	Criteria = core.Criteria
	Hook     = core.Hook
	Action   = core.Action
	Adapter  = core.Adapter

	DatastoreConfig = core.DatastoreConfig
	ModelSettings   = orm.ModelSettings
	Ontology        = orm.Ontology

	Event   = events.Event
	Sink    = events.Sink
	Handler = events.Handler

	KafkaSinkConfig = sink.KafkaConfig
	RedisSinkConfig = sink.RedisConfig
	AsyncSinkConfig = sink.AsyncConfig
	Subscription    = sink.Channel
	Delivery        = sink.Delivery
)

// Lifecycle actions.
const (
	ActionCreate  = core.ActionCreate
	ActionUpdate  = core.ActionUpdate
	ActionDestroy = core.ActionDestroy
)

// Errors returned by the facade and the models it serves.
var (
	ErrConfiguration     = core.ErrConfiguration
	ErrDirectoryNotFound = core.ErrDirectoryNotFound
	ErrModelValidation   = core.ErrModelValidation
	ErrORMTimeout        = core.ErrORMTimeout
	ErrORMInitialization = core.ErrORMInitialization
	ErrModelNotFound     = core.ErrModelNotFound
	ErrValidation        = core.ErrValidation
	ErrRecordNotFound    = core.ErrRecordNotFound
	ErrMultipleRecords   = core.ErrMultipleRecords
)

// Base returns the base model every definition extends.
func Base() *Definition { return model.Base() }
