package sink

import (
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/logshipper/connectors/go/common"
	cerrors "github.com/logshipper/connectors/go/connector-errors"
	schemagen "github.com/logshipper/connectors/go/schema-gen"
)

const (
	DefaultBufferSize   = 1000
	DefaultWorkers      = 4
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = time.Second

	// NoRetries disables retries, since a zero MaxRetries selects the default.
	NoRetries = -1

	// Retry delays grow exponentially from RetryBackoff up to this ceiling.
	maxRetryBackoff = time.Minute
)

// Publisher types.
const (
	TypeStdout = "stdout"
	TypeFile   = "file"
	TypeKafka  = "kafka"
	TypeNATS   = "nats"
)

// Config is the forwarding configuration of a connector.
type Config struct {
	BufferSize   int             `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty" jsonschema:"title=Buffer Size,description=Number of events held in memory awaiting publication. Submission blocks while the buffer is full. (default: 1000)"`
	Workers      int             `json:"workers,omitempty" yaml:"workers,omitempty" jsonschema:"title=Workers,description=Number of concurrent publishers. (default: 4)"`
	MaxRetries   int             `json:"max_retries,omitempty" yaml:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Attempts after the first failed publication of an event before it is dropped. Use -1 to never retry. (default: 5)"`
	RetryBackoff common.Duration `json:"retry_backoff,omitempty" yaml:"retry_backoff,omitempty" jsonschema:"title=Retry Backoff,description=Delay before the first retry. Each further retry waits twice as long. (default: 1s)"`

	Publisher PublisherConfig `json:"publisher,omitempty" yaml:"publisher,omitempty"`
}

// PublisherConfig selects and configures the downstream publisher.
type PublisherConfig struct {
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	FileConfig  `yaml:",inline"`
	KafkaConfig `yaml:",inline"`
	NATSConfig  `yaml:",inline"`
}

type FileConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" jsonschema:"title=Path,description=File which events are appended to as newline-delimited JSON."`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty" yaml:"brokers,omitempty" jsonschema:"title=Brokers,description=Kafka bootstrap broker addresses."`
	Topic   string   `json:"topic,omitempty" yaml:"topic,omitempty" jsonschema:"title=Topic"`
}

type NATSConfig struct {
	URL       string `json:"url,omitempty" yaml:"url,omitempty" jsonschema:"title=URL,description=NATS server URL such as nats://localhost:4222." jsonschema_extras:"secret=true"`
	Subject   string `json:"subject,omitempty" yaml:"subject,omitempty" jsonschema:"title=Subject"`
	JetStream bool   `json:"jetstream,omitempty" yaml:"jetstream,omitempty" jsonschema:"title=JetStream,description=Publish through JetStream and wait for the stream to acknowledge each event."`
}

type stdoutConfig struct{}

func (PublisherConfig) JSONSchema() *jsonschema.Schema {
	return schemagen.OneOfSchema("Publisher", "Destination of forwarded events.", "type", TypeStdout,
		schemagen.OneOfSubSchema("Standard Output", stdoutConfig{}, TypeStdout),
		schemagen.OneOfSubSchema("File", FileConfig{}, TypeFile),
		schemagen.OneOfSubSchema("Kafka", KafkaConfig{}, TypeKafka),
		schemagen.OneOfSubSchema("NATS", NATSConfig{}, TypeNATS),
	)
}

func (c *Config) SetDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = common.Duration(DefaultRetryBackoff)
	}
	if c.Publisher.Type == "" {
		c.Publisher.Type = TypeStdout
	}
	c.Publisher.Type = strings.ToLower(c.Publisher.Type)
}

func (c *Config) Validate() error {
	var errs = &cerrors.PrereqErr{}
	if c.BufferSize < 0 {
		errs.Err(fmt.Errorf("buffer_size must not be negative"))
	}
	if c.Workers < 0 {
		errs.Err(fmt.Errorf("workers must not be negative"))
	}
	if c.MaxRetries < NoRetries {
		errs.Err(fmt.Errorf("max_retries must be -1 or greater"))
	}
	if c.RetryBackoff < 0 {
		errs.Err(fmt.Errorf("retry_backoff must not be negative"))
	}

	var p = c.Publisher
	switch p.Type {
	case TypeStdout:
	case TypeFile:
		if p.Path == "" {
			errs.Err(fmt.Errorf("file publisher requires a path"))
		}
	case TypeKafka:
		if len(p.Brokers) == 0 {
			errs.Err(fmt.Errorf("kafka publisher requires at least one broker address"))
		}
		if p.Topic == "" {
			errs.Err(fmt.Errorf("kafka publisher requires a topic"))
		}
	case TypeNATS:
		if p.URL == "" {
			errs.Err(fmt.Errorf("nats publisher requires a url"))
		}
		if p.Subject == "" {
			errs.Err(fmt.Errorf("nats publisher requires a subject"))
		}
	default:
		errs.Err(fmt.Errorf("unknown publisher type %q (expected one of %q, %q, %q, %q)", p.Type, TypeStdout, TypeFile, TypeKafka, TypeNATS))
	}

	if errs.Len() != 0 {
		return errs
	}
	return nil
}
