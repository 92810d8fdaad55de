package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crimewatch/internal/anchor"
	"crimewatch/internal/ledger"
	"crimewatch/internal/storage"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	Ledger ledger.Config

	DBDriver string
	DBDSN    string

	StorageDriver string
	Minio         storage.MinioConfig

	EventsDriver string
	KafkaBrokers []string
	KafkaTopic   string

	AnchorDriver    string
	AnchorBatchSize int
	AnchorMaxWait   time.Duration
	Fabric          anchor.FabricConfig
}

// SetDefaults registers every key so that environment variables resolve
// even when no config file is present.
func SetDefaults(v *viper.Viper) {
	def := ledger.DefaultConfig()
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.addr", ":2112")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ledger.min-delay", def.MinDelay)
	v.SetDefault("ledger.max-delay", def.MaxDelay)
	v.SetDefault("ledger.failure-rate", def.FailureRate)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.dsn", "")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.access-key", "")
	v.SetDefault("storage.minio.secret-key", "")
	v.SetDefault("storage.minio.bucket", "evidence")
	v.SetDefault("storage.minio.secure", false)
	v.SetDefault("events.driver", "log")
	v.SetDefault("events.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka.topic", "crimewatch.events")
	v.SetDefault("anchor.driver", "none")
	v.SetDefault("anchor.batch-size", 16)
	v.SetDefault("anchor.max-wait", 2*time.Second)
	v.SetDefault("anchor.fabric.msp-id", "Org1MSP")
	v.SetDefault("anchor.fabric.crypto-path", "")
	v.SetDefault("anchor.fabric.user", "")
	v.SetDefault("anchor.fabric.peer-endpoint", "localhost:7051")
	v.SetDefault("anchor.fabric.gateway-peer", "peer0.org1.example.com")
	v.SetDefault("anchor.fabric.channel", "mychannel")
	v.SetDefault("anchor.fabric.chaincode", "basic")
}

func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:    v.GetString("http.addr"),
		MetricsAddr: v.GetString("metrics.addr"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
		Ledger: ledger.Config{
			MinDelay:    v.GetDuration("ledger.min-delay"),
			MaxDelay:    v.GetDuration("ledger.max-delay"),
			FailureRate: v.GetFloat64("ledger.failure-rate"),
		},
		DBDriver:      strings.ToLower(v.GetString("db.driver")),
		DBDSN:         v.GetString("db.dsn"),
		StorageDriver: strings.ToLower(v.GetString("storage.driver")),
		Minio: storage.MinioConfig{
			Endpoint:  v.GetString("storage.minio.endpoint"),
			AccessKey: v.GetString("storage.minio.access-key"),
			SecretKey: v.GetString("storage.minio.secret-key"),
			Bucket:    v.GetString("storage.minio.bucket"),
			Secure:    v.GetBool("storage.minio.secure"),
		},
		EventsDriver:    strings.ToLower(v.GetString("events.driver")),
		KafkaBrokers:    v.GetStringSlice("events.kafka.brokers"),
		KafkaTopic:      v.GetString("events.kafka.topic"),
		AnchorDriver:    strings.ToLower(v.GetString("anchor.driver")),
		AnchorBatchSize: v.GetInt("anchor.batch-size"),
		AnchorMaxWait:   v.GetDuration("anchor.max-wait"),
		Fabric: anchor.FabricConfig{
			MSPID:        v.GetString("anchor.fabric.msp-id"),
			CryptoPath:   v.GetString("anchor.fabric.crypto-path"),
			User:         v.GetString("anchor.fabric.user"),
			PeerEndpoint: v.GetString("anchor.fabric.peer-endpoint"),
			GatewayPeer:  v.GetString("anchor.fabric.gateway-peer"),
			Channel:      v.GetString("anchor.fabric.channel"),
			Chaincode:    v.GetString("anchor.fabric.chaincode"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	switch c.DBDriver {
	case "memory":
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DBDriver)
	}

	switch c.StorageDriver {
	case "memory":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.StorageDriver)
	}

	switch c.EventsDriver {
	case "log", "none":
	case "kafka":
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("events.kafka.brokers and events.kafka.topic are required")
		}
	default:
		return fmt.Errorf("unknown events.driver %q", c.EventsDriver)
	}

	switch c.AnchorDriver {
	case "none", "mock":
	case "fabric":
		if err := c.Fabric.Validate(); err != nil {
			return fmt.Errorf("anchor: %w", err)
		}
	default:
		return fmt.Errorf("unknown anchor.driver %q", c.AnchorDriver)
	}
	return nil
}
