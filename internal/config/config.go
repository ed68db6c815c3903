// Package config loads fabric-wide tunables and manages the on-disk agent
// roster.
//
// All fields declare their environment mapping via struct tags:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() fills them through reflection (pkg/util.LoadFromEnv) so new knobs
// never need hand-written parsing.
package config

import (
	"github.com/agentfabric/fabric/pkg/util"
)

// Config holds every tunable of the fabric. Field names map 1:1 to env vars.
type Config struct {
	// Identity & keys (KIS)
	MasterKeyEnv      string `env:"AGENTFABRIC_MASTER_KEY_ENV" default:"AGENTFABRIC_MASTER_KEY"`
	MasterKeyFile     string `env:"AGENTFABRIC_MASTER_KEY_FILE"`
	IdentitySnapshot  string `env:"AGENTFABRIC_IDENTITY_SNAPSHOT" default:"./data/identities.snap"`
	DefaultTokenTTLS  int    `env:"AGENTFABRIC_TOKEN_TTL_SEC" default:"3600" min:"1"`
	ReplayWindowSize  int    `env:"AGENTFABRIC_REPLAY_WINDOW" default:"1024" min:"1024"`

	// Priority Ring Fabric
	RingCapacity        int `env:"AGENTFABRIC_RING_CAPACITY" default:"65536" min:"2"`
	QuantumCritical     int `env:"AGENTFABRIC_QUANTUM_CRITICAL" default:"1024" min:"1"`
	QuantumHigh         int `env:"AGENTFABRIC_QUANTUM_HIGH" default:"512" min:"1"`
	QuantumMedium       int `env:"AGENTFABRIC_QUANTUM_MEDIUM" default:"256" min:"1"`
	QuantumLow          int `env:"AGENTFABRIC_QUANTUM_LOW" default:"128" min:"1"`
	QuantumBulk         int `env:"AGENTFABRIC_QUANTUM_BULK" default:"64" min:"1"`
	// ConsumerWorkers bounds how many agents' handlers may run concurrently
	// across the whole fabric (a shared semaphore in internal/fabric), not
	// how many goroutines drain a single agent's inbox — every agent inbox
	// has exactly one consumer fiber regardless of this value.
	ConsumerWorkers     int `env:"AGENTFABRIC_CONSUMER_WORKERS" default:"4" min:"1"`
	BlockSenderTimeoutMS int `env:"AGENTFABRIC_BLOCK_SENDER_TIMEOUT_MS" default:"50" min:"1"`
	InlinePayloadMax    int `env:"AGENTFABRIC_INLINE_PAYLOAD_MAX" default:"256" min:"0"`

	// Agent Runtime Host
	ShutdownGraceSec int `env:"AGENTFABRIC_SHUTDOWN_GRACE_SEC" default:"5" min:"0"`
	RpcTimeoutMS     int `env:"AGENTFABRIC_RPC_TIMEOUT_MS" default:"5000" min:"1"`

	// Control plane (admin surface over gin + websocket)
	ControlListenAddr string `env:"AGENTFABRIC_CONTROL_ADDR" default:":8781"`
	RosterPath        string `env:"AGENTFABRIC_ROSTER_PATH" default:"./data/roster.json"`

	// PostgreSQL audit collaborator (optional, out of the hot path)
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`
	AuditLogLimit          int    `env:"AUDIT_LOG_LIMIT" default:"100" min:"1"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
}

// Load reads the configuration from the environment (via struct-tag reflection).
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
