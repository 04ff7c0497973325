package utils

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sensortrack/telemetry-hub/pkg/file"
)

// Duration wraps time.Duration so yaml values like "5s" or "1m30s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard-library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker            string   `yaml:"broker"`             // MQTT broker address
		ClientID          string   `yaml:"client_id"`          // MQTT client ID prefix
		Username          string   `yaml:"username"`           // Broker username (optional)
		Password          string   `yaml:"password"`           // Broker password (optional)
		CACertificate     string   `yaml:"ca_certificate"`     // Path to the CA certificate (optional)
		QOS               int      `yaml:"qos"`                // QoS level for subscriptions
		ReconnectInterval Duration `yaml:"reconnect_interval"` // Delay between reconnect attempts
	} `yaml:"mqtt"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	InfluxDB struct {
		URL    string `yaml:"url"`
		Token  string `yaml:"token"`
		Org    string `yaml:"org"`
		Bucket string `yaml:"bucket"`
	} `yaml:"influxdb"`

	JWT struct {
		Secret string `yaml:"secret"` // Shared HMAC secret for bearer tokens
	} `yaml:"jwt"`

	Ingest struct {
		Workers      int      `yaml:"workers"`       // Worker pool size for message processing
		DrainTimeout Duration `yaml:"drain_timeout"` // Bound on in-flight work during shutdown
	} `yaml:"ingest"`

	Hub struct {
		SendBuffer int `yaml:"send_buffer"` // Per-connection outbound queue length
	} `yaml:"hub"`

	HTTP struct {
		Address string `yaml:"address"` // Listen address for the HTTP surface
	} `yaml:"http"`

	Shutdown struct {
		Timeout Duration `yaml:"timeout"` // Bound on graceful shutdown before forced exit
	} `yaml:"shutdown"`
}

// LoadConfig reads and parses the configuration file, applying defaults for
// settings the file leaves out.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	if config.MQTT.ReconnectInterval == 0 {
		config.MQTT.ReconnectInterval = Duration(5 * time.Second)
	}
	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}
	if config.Ingest.DrainTimeout == 0 {
		config.Ingest.DrainTimeout = Duration(10 * time.Second)
	}
	if config.Hub.SendBuffer == 0 {
		config.Hub.SendBuffer = 64
	}
	if config.HTTP.Address == "" {
		config.HTTP.Address = ":8080"
	}
	if config.Shutdown.Timeout == 0 {
		config.Shutdown.Timeout = Duration(15 * time.Second)
	}

	return &config, nil
}
