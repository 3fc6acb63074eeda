package table

import "time"

// CassandraConfig describes the properties used to connect to the
// Cassandra cluster backing Table Storage. Field layout mirrors the
// teacher's storage/cassandra/impl.Cassandra config (trimmed to the
// knobs the GCS table layer actually uses).
type CassandraConfig struct {
	ContactPoints []string      `yaml:"contact_points" validate:"nonzero"`
	Port          int           `yaml:"port"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Keyspace      string        `yaml:"keyspace" validate:"nonzero"`
	Consistency   string        `yaml:"consistency"`
	Timeout       time.Duration `yaml:"timeout"`
	ProtoVersion  int           `yaml:"proto_version"`

	// MaxRetries bounds the exponential backoff budget for retryable
	// write/read failures before they are surfaced as Transient errors
	// to the caller (spec.md §4.1).
	MaxRetries int `yaml:"max_retries"`
	// RetryInterval is the base delay used by common/backoff's
	// RetryPolicy.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

const (
	defaultPort          = 9042
	defaultConsistency   = "LOCAL_QUORUM"
	defaultTimeout       = 1000 * time.Millisecond
	defaultProtoVersion  = 4
	defaultMaxRetries    = 5
	defaultRetryInterval = 100 * time.Millisecond
)

// withDefaults fills in zero-valued fields with the teacher's defaults.
func (c CassandraConfig) withDefaults() CassandraConfig {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Consistency == "" {
		c.Consistency = defaultConsistency
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.ProtoVersion == 0 {
		c.ProtoVersion = defaultProtoVersion
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = defaultRetryInterval
	}
	return c
}
