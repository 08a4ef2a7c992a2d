package v1

import (
	"time"

	"github.com/onepanelio/functionary/pkg/broker"
	"github.com/onepanelio/functionary/pkg/util/s3"
	"github.com/spf13/viper"
)

// SystemConfig is the process configuration. Values come from a config file and the environment,
// environment variables use the key with "." replaced by "_", e.g. RABBITMQ_HOST.
type SystemConfig struct {
	*viper.Viper
}

// NewSystemConfig wraps v. Defaults are applied to v.
func NewSystemConfig(v *viper.Viper) SystemConfig {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("rabbitmq.port", 0)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("s3.bucket", "functionary")
	v.SetDefault("s3.presign_expiry", 30)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("builder.workdir", "")
	v.SetDefault("runner.timeout", 60)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	return SystemConfig{v}
}

// DatabaseDriverName is the sql driver used to open the database.
func (s SystemConfig) DatabaseDriverName() string {
	return s.GetString("database.driver")
}

// DatabaseConnection returns a postgres key/value connection string.
func (s SystemConfig) DatabaseConnection() string {
	return "host=" + s.GetString("database.host") +
		" port=" + s.GetString("database.port") +
		" user=" + s.GetString("database.user") +
		" password=" + s.GetString("database.password") +
		" dbname=" + s.GetString("database.name") +
		" sslmode=" + s.GetString("database.sslmode")
}

// BrokerConfig returns the message broker connection settings.
func (s SystemConfig) BrokerConfig() broker.Config {
	return broker.Config{
		Host:     s.GetString("rabbitmq.host"),
		Port:     s.GetInt("rabbitmq.port"),
		User:     s.GetString("rabbitmq.user"),
		Password: s.GetString("rabbitmq.password"),
		VHost:    s.GetString("rabbitmq.vhost"),
		CAFile:   s.GetString("rabbitmq.ca_file"),
		CertFile: s.GetString("rabbitmq.cert_file"),
		KeyFile:  s.GetString("rabbitmq.key_file"),
	}
}

// S3Config returns the object store settings.
func (s SystemConfig) S3Config() s3.Config {
	return s3.Config{
		Endpoint:  s.GetString("s3.endpoint"),
		AccessKey: s.GetString("s3.access_key"),
		SecretKey: s.GetString("s3.secret_key"),
		Region:    s.GetString("s3.region"),
		InSecure:  s.GetBool("s3.insecure"),
	}
}

// FileBucket is the bucket file parameters are stored in.
func (s SystemConfig) FileBucket() string {
	return s.GetString("s3.bucket")
}

// PresignedURLExpiry is how long file parameter URLs handed to runners stay valid.
func (s SystemConfig) PresignedURLExpiry() time.Duration {
	return time.Duration(s.GetInt("s3.presign_expiry")) * time.Minute
}

// RegistryConfig describes the image registry built packages are pushed to.
type RegistryConfig struct {
	Host     string
	Username string
	Password string
}

func (s SystemConfig) RegistryConfig() RegistryConfig {
	return RegistryConfig{
		Host:     s.GetString("registry.host"),
		Username: s.GetString("registry.username"),
		Password: s.GetString("registry.password"),
	}
}

// WorkerConcurrency is the number of background jobs run at the same time.
func (s SystemConfig) WorkerConcurrency() int {
	concurrency := s.GetInt("worker.concurrency")
	if concurrency <= 0 {
		return 4
	}

	return concurrency
}

// BuildWorkDir is the parent directory of build contexts. Empty means the os temp directory.
func (s SystemConfig) BuildWorkDir() string {
	return s.GetString("builder.workdir")
}

func (s SystemConfig) MetricsAddress() string {
	return s.GetString("metrics.address")
}

// RunnerTimeout is how long the runner lets a container run before removing it. Zero disables the limit.
func (s SystemConfig) RunnerTimeout() time.Duration {
	return time.Duration(s.GetInt("runner.timeout")) * time.Minute
}
