package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeEnvFile writes an env config file under tempDir/configs and chdirs the
// test into tempDir so LoadConfig finds it
func writeEnvFile(t *testing.T, name, content string) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	tempConfigsSubDir := filepath.Join(tempDir, "configs")
	require.NoError(t, os.Mkdir(tempConfigsSubDir, 0755))

	envFilePath := filepath.Join(tempConfigsSubDir, name+".env")
	require.NoError(t, os.WriteFile(envFilePath, []byte(content), 0644))

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	require.NoError(t, os.Chdir(tempDir))
}

// secretLines holds the values with no defaults; every valid config needs them
const secretLines = "GATEWAY_SECRET_KEY=sk_test_secret\n" +
	"GATEWAY_WEBHOOK_SECRET=whsec_test_secret\n" +
	"ADMIN_API_TOKEN=admin_test_token\n"

func TestLoadConfig_HappyPath(t *testing.T) {
	testAppName := "TestApp"
	testPort := 9090
	testLogLevel := "debug"
	testKafkaBrokers := "kafka1:9092"

	envContent := fmt.Sprintf(
		"APP_NAME=%s\nSERVER_PORT=%d\nLOG_LEVEL=%s\nKAFKA_BROKERS=%s\n%s",
		testAppName, testPort, testLogLevel, testKafkaBrokers, secretLines,
	)
	writeEnvFile(t, "test_happy", envContent)

	cfg, err := LoadConfig("test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testAppName, cfg.Application.Name)
	assert.Equal(t, testPort, cfg.Server.Port)
	assert.Equal(t, testLogLevel, cfg.Logging.Level)
	assert.Equal(t, testKafkaBrokers, cfg.Kafka.Brokers)
	assert.Equal(t, "sk_test_secret", cfg.Gateway.SecretKey)
	assert.Equal(t, "whsec_test_secret", cfg.Gateway.WebhookSecret)
	assert.Equal(t, "admin_test_token", cfg.Admin.APIToken)

	// Values absent from the file fall back to defaults
	assert.Equal(t, "development", cfg.Application.Env)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Gateway.RetryDelay)
	assert.Equal(t, "charge_reconciliation_requests", cfg.Kafka.ReconciliationTopic)
	assert.Equal(t, "payout_notifications", cfg.Kafka.PayoutTopic)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, 10, cfg.WorkerPool.Size)

	cfgWithName, err := LoadConfigWithName("configs/test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfgWithName)
	assert.Equal(t, testAppName, cfgWithName.Application.Name)

	cfgWithNameAndType, err := LoadConfigWithNameAndType("configs/test_happy", "env")
	require.NoError(t, err)
	require.NotNil(t, cfgWithNameAndType)
	assert.Equal(t, testAppName, cfgWithNameAndType.Application.Name)
}

func TestLoadConfig_SecretsHaveNoDefaults(t *testing.T) {
	tests := []struct {
		name       string
		envContent string
		missingVar string
	}{
		{
			name: "MissingGatewaySecretKey",
			envContent: "GATEWAY_WEBHOOK_SECRET=whsec_test_secret\n" +
				"ADMIN_API_TOKEN=admin_test_token\n",
			missingVar: "GATEWAY_SECRET_KEY",
		},
		{
			name: "MissingWebhookSecret",
			envContent: "GATEWAY_SECRET_KEY=sk_test_secret\n" +
				"ADMIN_API_TOKEN=admin_test_token\n",
			missingVar: "GATEWAY_WEBHOOK_SECRET",
		},
		{
			name: "MissingAdminToken",
			envContent: "GATEWAY_SECRET_KEY=sk_test_secret\n" +
				"GATEWAY_WEBHOOK_SECRET=whsec_test_secret\n",
			missingVar: "ADMIN_API_TOKEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeEnvFile(t, "test_secrets", tt.envContent)

			cfg, err := LoadConfig("test_secrets")

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.missingVar)
		})
	}
}

func TestLoadConfig_InvalidValuesRejected(t *testing.T) {
	envContent := secretLines + "SERVER_PORT=0\nWORKER_POOL_SIZE=0\n"
	writeEnvFile(t, "test_invalid", envContent)

	cfg, err := LoadConfig("test_invalid")

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SERVER_PORT")
	assert.Contains(t, err.Error(), "WORKER_POOL_SIZE")
}

func TestConfig_Validate_DefaultsWithSecrets(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{
		Application: ApplicationConfig{Env: v.GetString("APP_ENV"), Name: v.GetString("APP_NAME")},
		Logging:     LoggingConfig{Level: v.GetString("LOG_LEVEL")},
		Server: ServerConfig{
			Port:            v.GetInt("SERVER_PORT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Gateway: GatewayConfig{
			BaseURL:        v.GetString("GATEWAY_BASE_URL"),
			SecretKey:      "sk_test_secret",
			WebhookSecret:  "whsec_test_secret",
			MaxAttempts:    v.GetInt("GATEWAY_MAX_ATTEMPTS"),
			RetryDelay:     v.GetDuration("GATEWAY_RETRY_DELAY"),
			RequestTimeout: v.GetDuration("GATEWAY_REQUEST_TIMEOUT"),
		},
		Admin: AdminConfig{APIToken: "admin_test_token"},
		Kafka: KafkaConfig{
			Brokers:             v.GetString("KAFKA_BROKERS"),
			ReconciliationTopic: v.GetString("KAFKA_RECONCILIATION_TOPIC"),
			PayoutTopic:         v.GetString("KAFKA_PAYOUT_TOPIC"),
			NumPartitions:       v.GetInt("KAFKA_NUM_PARTITIONS"),
			ReplicationFactor:   v.GetInt("KAFKA_REPLICATION_FACTOR"),
			ConsumerGroup:       v.GetString("KAFKA_CONSUMER_GROUP"),
			MinBytes:            v.GetInt("KAFKA_CONSUMER_MIN_BYTES"),
			MaxBytes:            v.GetInt("KAFKA_CONSUMER_MAX_BYTES"),
			MaxWait:             v.GetDuration("KAFKA_CONSUMER_MAX_WAIT"),
			StartOffset:         v.GetInt64("KAFKA_CONSUMER_START_OFFSET"),
			DLQTopic:            v.GetString("KAFKA_DLQ_TOPIC"),
		},
		Postgres: PostgresConfig{
			URL:             v.GetString("POSTGRES_URL"),
			MaxConns:        int32(v.GetInt("POSTGRES_MAX_CONNS")),
			MinConns:        int32(v.GetInt("POSTGRES_MIN_CONNS")),
			ConnMaxLifetime: v.GetDuration("POSTGRES_MAX_CONN_LIFETIME"),
			ConnMaxIdleTime: v.GetDuration("POSTGRES_MAX_CONN_IDLE_TIME"),
			MigrationsPath:  v.GetString("POSTGRES_MIGRATIONS_PATH"),
		},
		MongoDB: MongoDBConfig{
			URI:             v.GetString("MONGO_URI"),
			Database:        v.GetString("MONGO_DATABASE"),
			Timeout:         v.GetDuration("MONGO_TIMEOUT"),
			MaxPoolSize:     uint64(v.GetInt("MONGO_MAX_POOL_SIZE")),
			MinPoolSize:     uint64(v.GetInt("MONGO_MIN_POOL_SIZE")),
			MaxConnIdleTime: v.GetDuration("MONGO_MAX_CONN_IDLE_TIME"),
		},
		WorkerPool: WorkerPoolConfig{
			Size: v.GetInt("WORKER_POOL_SIZE"),
		},
	}

	err := cfg.validate()
	assert.NoError(t, err, "Defaults plus secrets should be valid")
}
