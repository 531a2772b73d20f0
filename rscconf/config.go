// Package rscconf models the configuration keys consumed by the session
// lifecycle and RPC coordination layer. Configuration loading itself (files,
// flags, env parsing) is an external collaborator's concern; this package
// only defines the typed contract and sane defaults, in the pattern-matched,
// functional-options style of a per-method service config builder.
package rscconf

import (
	"fmt"
	"time"

	"github.com/remoteexec/rsc/rsccompress"
)

// Kind is the interpreter variant hosted by the remote driver.
type Kind string

const (
	Spark   Kind = "spark"
	PySpark Kind = "pyspark"
	SparkR  Kind = "sparkr"
)

// Env names the pass-through environment variables documented by the
// external interfaces contract. The manager does not read these itself —
// the launcher collaborator does — but they are named here for
// bit-compatibility with callers that build that collaborator's environment.
const (
	EnvLivyHome             = "LIVY_HOME"
	EnvSparkHome            = "SPARK_HOME"
	EnvPySparkArchivesPath  = "PYSPARK_ARCHIVES_PATH"
	EnvSparkRArchivesPath   = "SPARKR_ARCHIVES_PATH"
	EnvLivyReplJavaOpts     = "LIVY_REPL_JAVA_OPTS"
)

// Config holds every configuration key named in the external interfaces
// contract, plus the supplemental knobs SPEC_FULL adds (operations table
// bound, statement poll interval, frame packing, default compression).
type Config struct {
	// ConnectTimeout bounds the initial TCP connect.
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds the SASL exchange once connected; distinct
	// from ConnectTimeout.
	HandshakeTimeout time.Duration
	// MaxMessageSize caps a single frame body.
	MaxMessageSize int

	// SASLMechanisms lists acceptable mechanism names, most preferred
	// first. Only "DIGEST-MD5" ships today.
	SASLMechanisms []string
	// ClientID and Secret authenticate the handshake.
	ClientID string
	Secret   string

	// Kind selects the interpreter variant the driver hosts.
	Kind Kind
	// ProxyUser impersonates a different user on the remote driver, if set.
	ProxyUser string

	// ReplJarsPath and ReplDriverClasspath are passed through to the
	// launcher collaborator unmodified.
	ReplJarsPath        string
	ReplDriverClasspath string

	// MaxOperations bounds the session's operations table (§9 open
	// question: the reference leaves this unbounded; this repo bounds it).
	MaxOperations int
	// StatementPollInterval is the fixed backoff between replJobResult
	// polls (§4.1.1). The reference hardcodes 1s; this is exposed so an
	// implementer can change it without touching the poll loop.
	StatementPollInterval time.Duration
	// EnableFramePacking toggles the Cap'n-Proto-style packing of
	// outbound frames (client-local, no driver-side negotiation).
	EnableFramePacking bool
	// JobCompression selects the algorithm used to compress job payloads
	// before they are handed to bypass(); None leaves them untouched.
	JobCompression rsccompress.Algorithm
}

// Option configures a Config.
type Option func(*Config)

// Default returns a Config with the reference implementation's defaults:
// 10s connect timeout, 10s handshake timeout, 50MB max message, DIGEST-MD5,
// 1000-entry operations bound, 1s poll interval, packing disabled.
func Default() *Config {
	return &Config{
		ConnectTimeout:        10 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		MaxMessageSize:        50 << 20,
		SASLMechanisms:        []string{"DIGEST-MD5"},
		Kind:                  Spark,
		MaxOperations:         1000,
		StatementPollInterval: time.Second,
	}
}

// New builds a Config from Default() plus the given options.
func New(opts ...Option) *Config {
	c := Default()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithConnectTimeout(d time.Duration) Option   { return func(c *Config) { c.ConnectTimeout = d } }
func WithHandshakeTimeout(d time.Duration) Option { return func(c *Config) { c.HandshakeTimeout = d } }
func WithMaxMessageSize(n int) Option              { return func(c *Config) { c.MaxMessageSize = n } }
func WithSASLMechanisms(m ...string) Option        { return func(c *Config) { c.SASLMechanisms = m } }
func WithCredentials(clientID, secret string) Option {
	return func(c *Config) { c.ClientID = clientID; c.Secret = secret }
}
func WithKind(k Kind) Option          { return func(c *Config) { c.Kind = k } }
func WithProxyUser(user string) Option { return func(c *Config) { c.ProxyUser = user } }
func WithReplJarsPath(p string) Option { return func(c *Config) { c.ReplJarsPath = p } }
func WithReplDriverClasspath(p string) Option {
	return func(c *Config) { c.ReplDriverClasspath = p }
}
func WithMaxOperations(n int) Option { return func(c *Config) { c.MaxOperations = n } }
func WithStatementPollInterval(d time.Duration) Option {
	return func(c *Config) { c.StatementPollInterval = d }
}
func WithFramePacking(enabled bool) Option {
	return func(c *Config) { c.EnableFramePacking = enabled }
}
func WithJobCompression(alg rsccompress.Algorithm) Option {
	return func(c *Config) { c.JobCompression = alg }
}

// minHandshakeFrameSize is the smallest MaxMessageSize that can carry a
// DIGEST-MD5 challenge/response pair without truncation.
const minHandshakeFrameSize = 512

// Validate rejects a configuration that connect() could never succeed
// with, before a socket is ever opened.
func (c *Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("rscconf: ConnectTimeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("rscconf: HandshakeTimeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.MaxMessageSize < minHandshakeFrameSize {
		return fmt.Errorf("rscconf: MaxMessageSize %d is smaller than the minimum handshake frame size %d", c.MaxMessageSize, minHandshakeFrameSize)
	}
	if len(c.SASLMechanisms) == 0 {
		return fmt.Errorf("rscconf: SASLMechanisms must not be empty")
	}
	if c.ClientID == "" {
		return fmt.Errorf("rscconf: ClientID must be set")
	}
	if c.MaxOperations <= 0 {
		return fmt.Errorf("rscconf: MaxOperations must be positive, got %d", c.MaxOperations)
	}
	switch c.Kind {
	case Spark, PySpark, SparkR:
	default:
		return fmt.Errorf("rscconf: unknown Kind %q", c.Kind)
	}
	return nil
}
