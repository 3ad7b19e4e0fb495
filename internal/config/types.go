package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/crypto"
	chromemdriver "github.com/fyrsmithlabs/recalld/internal/driver/chromem"
	qdrantdriver "github.com/fyrsmithlabs/recalld/internal/driver/qdrant"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/events"
	"github.com/fyrsmithlabs/recalld/internal/index"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `koanf:"addr"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// Enabled turns trace and metric export on.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `koanf:"endpoint"`

	// ServiceName identifies this process in telemetry.
	ServiceName string `koanf:"service_name"`
}

// VectorStoreConfig selects and configures drivers.
type VectorStoreConfig struct {
	// Driver is the default driver id: "chromem" or "qdrant".
	Driver string `koanf:"driver"`

	Chromem chromemdriver.Config `koanf:"chromem"`
	Qdrant  qdrantdriver.Config  `koanf:"qdrant"`
}

// RecordsConfig configures the record source.
type RecordsConfig struct {
	// BaseURL is the record service endpoint. Empty selects the
	// in-memory source, useful only for local development.
	BaseURL string `koanf:"base_url"`

	// Token authenticates against the record service.
	Token string `koanf:"token"`

	// Timeout bounds each record service call.
	Timeout time.Duration `koanf:"timeout"`
}

// EntityConfig declares one indexable entity.
type EntityConfig struct {
	ID       string `koanf:"id"`
	Driver   string `koanf:"driver"`
	Disabled bool   `koanf:"disabled"`
	Icon     string `koanf:"icon"`
}

// Config is the root configuration.
type Config struct {
	Server      ServerConfig        `koanf:"server"`
	Logging     logging.Config      `koanf:"logging"`
	Telemetry   TelemetryConfig     `koanf:"telemetry"`
	Embeddings  embeddings.Config   `koanf:"embeddings"`
	Encryption  crypto.Config       `koanf:"encryption"`
	VectorStore VectorStoreConfig   `koanf:"vectorstore"`
	Events      events.NATSConfig   `koanf:"events"`
	Reindex     index.ReindexConfig `koanf:"reindex"`
	Records     RecordsConfig       `koanf:"records"`
	Entities    []EntityConfig      `koanf:"entities"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8090"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	cfg.Logging.ApplyDefaults()
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "recalld"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.VectorStore.Driver == "" {
		cfg.VectorStore.Driver = "chromem"
	}
	cfg.VectorStore.Chromem.ApplyDefaults()
	cfg.VectorStore.Qdrant.ApplyDefaults()
	cfg.Events.ApplyDefaults()
	cfg.Reindex.ApplyDefaults()
	if cfg.Records.Timeout == 0 {
		cfg.Records.Timeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.VectorStore.Driver {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore driver %q", c.VectorStore.Driver)
	}

	if err := c.Encryption.Validate(); err != nil {
		return err
	}
	if err := c.VectorStore.Chromem.Validate(); err != nil {
		return err
	}
	if err := c.VectorStore.Qdrant.Validate(); err != nil {
		return err
	}

	for _, e := range c.Entities {
		if e.ID == "" {
			return fmt.Errorf("entity config with empty id")
		}
	}
	return nil
}
