package dto

import (
	"testing"
)

func validConfig() ApplicationConfig {
	return ApplicationConfig{
		Application: ApplicationInfo{Name: "sink"},
		Kafka: KafkaConfig{
			BootstrapServers: []string{"localhost:9092"},
			Consumer:         ConsumerConfig{GroupID: "g"},
		},
		Connector: ConnectorConfig{
			Properties: map[string]string{
				"connect.s3.kcql": "INSERT INTO b:p SELECT * FROM t",
			},
		},
	}
}

func TestApplicationConfigValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplicationConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ApplicationConfig)
	}{
		{"missing name", func(c *ApplicationConfig) { c.Application.Name = "" }},
		{"missing brokers", func(c *ApplicationConfig) { c.Kafka.BootstrapServers = nil }},
		{"missing group", func(c *ApplicationConfig) { c.Kafka.Consumer.GroupID = "" }},
		{"missing properties", func(c *ApplicationConfig) { c.Connector.Properties = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}
