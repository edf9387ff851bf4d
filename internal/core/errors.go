package core

import "errors"

var (
	// ErrConfiguration is returned when the datastore configuration is missing or invalid.
	ErrConfiguration = errors.New("persistence: invalid configuration")

	// ErrDirectoryNotFound is returned when the model directory does not exist.
	ErrDirectoryNotFound = errors.New("persistence: model directory not found")

	// ErrModelValidation is returned when a model definition cannot be registered,
	// e.g. it references an undeclared datastore.
	ErrModelValidation = errors.New("persistence: invalid model definition")

	// ErrORMTimeout is returned when ORM initialization exceeds the configured timeout.
	ErrORMTimeout = errors.New("persistence: ORM time out")

	// ErrORMInitialization is returned when the ORM reports a failure while initializing.
	ErrORMInitialization = errors.New("persistence: ORM initialization failed")

	// ErrModelNotFound is returned when no collection matches an identity.
	ErrModelNotFound = errors.New("persistence: no model found matching identity")

	// ErrValidation is returned when a record violates its model's attributes.
	ErrValidation = errors.New("validation error")

	// ErrRecordNotFound is returned when a single-record operation matches nothing.
	ErrRecordNotFound = errors.New("record not found")

	// ErrMultipleRecords is returned when FindOne matches more than one record.
	ErrMultipleRecords = errors.New("more than one record matches criteria")

	// ErrUnknownAdapter is returned when a datastore names an unregistered adapter.
	ErrUnknownAdapter = errors.New("unknown adapter")

	// ErrClosed is returned by operations on a torn down datastore.
	ErrClosed = errors.New("datastore is closed")
)
