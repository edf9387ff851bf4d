package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/persistence/internal/core"
)

func TestRegisteredTypes(t *testing.T) {
	assert.Equal(t, []string{"dynamodb", "memory", "mongo", "redis", "sql"}, RegisteredTypes())
	assert.True(t, IsRegistered("memory"))
	assert.False(t, IsRegistered("sails-disk"))
}

func TestNew(t *testing.T) {
	a, err := New("memory")
	require.NoError(t, err)
	assert.Equal(t, "memory", a.Identity())

	_, err = New("sails-disk")
	assert.ErrorIs(t, err, core.ErrUnknownAdapter)

	_, err = New("")
	assert.ErrorIs(t, err, core.ErrUnknownAdapter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  core.DatastoreConfig
		wantErr bool
	}{
		{"memory", core.DatastoreConfig{Adapter: "memory"}, false},
		{"sqlite", core.DatastoreConfig{Adapter: "sql", Driver: DriverSQLite}, false},
		{"mysql without host", core.DatastoreConfig{Adapter: "sql", Driver: DriverMySQL}, true},
		{"postgres url", core.DatastoreConfig{Adapter: "sql", Driver: DriverPostgres, URL: "postgres://db/app"}, false},
		{"postgres without database", core.DatastoreConfig{Adapter: "sql", Driver: DriverPostgres, Host: "db"}, true},
		{"sql without driver", core.DatastoreConfig{Adapter: "sql"}, true},
		{"redis", core.DatastoreConfig{Adapter: "redis", Endpoints: []string{"localhost:6379"}}, false},
		{"redis without endpoint", core.DatastoreConfig{Adapter: "redis"}, true},
		{"dynamodb", core.DatastoreConfig{Adapter: "dynamodb", Region: "us-east-1"}, false},
		{"dynamodb half credentials", core.DatastoreConfig{Adapter: "dynamodb", Region: "us-east-1", AccessKeyID: "x"}, true},
		{"mongo", core.DatastoreConfig{Adapter: "mongo", Host: "localhost", Database: "app"}, false},
		{"mongo without database", core.DatastoreConfig{Adapter: "mongo", Host: "localhost"}, true},
		{"unknown", core.DatastoreConfig{Adapter: "sails-disk"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegisterFactory_PanicsOnDuplicate(t *testing.T) {
	assert.Panics(t, func() { RegisterFactory(&MemoryFactory{}) })
	assert.Panics(t, func() { RegisterFactory(nil) })
}

func TestRedisOptions(t *testing.T) {
	opts, err := RedisOptions(core.DatastoreConfig{Endpoints: []string{"cache:6379", "ignored:6379"}, DB: 2, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)

	opts, err = RedisOptions(core.DatastoreConfig{URL: "redis://localhost:6380/3"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB)
}
