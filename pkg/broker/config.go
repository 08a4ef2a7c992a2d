package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds the connection settings for RabbitMQ.
// When CertFile is set the connection uses TLS with the client certificate, otherwise plain credentials.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	CAFile   string
	CertFile string
	KeyFile  string
}

// UsesTLS returns true if a client certificate is configured.
func (c *Config) UsesTLS() bool {
	return c.CertFile != ""
}

// URL returns the amqp(s) URL for c. The virtual host is passed separately in the dial config.
func (c *Config) URL() string {
	port := c.Port
	scheme := "amqp"
	if c.UsesTLS() {
		scheme = "amqps"
		if port == 0 {
			port = 5671
		}
	} else if port == 0 {
		port = 5672
	}

	u := url.URL{
		Scheme: scheme,
		Host:   c.Host + ":" + strconv.Itoa(port),
	}
	if !c.UsesTLS() && c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	return u.String()
}

func (c *Config) amqpConfig() (amqp.Config, error) {
	config := amqp.Config{
		Heartbeat: amqp091Heartbeat,
		Locale:    "en_US",
	}
	if c.VHost != "" {
		config.Vhost = c.VHost
	}

	if !c.UsesTLS() {
		return config, nil
	}

	tlsConfig, err := c.tlsConfig()
	if err != nil {
		return config, err
	}
	config.TLSClientConfig = tlsConfig
	config.SASL = []amqp.Authentication{&amqp.ExternalAuth{}}

	return config, nil
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		ServerName:   c.Host,
		MinVersion:   tls.VersionTLS12,
	}

	if c.CAFile != "" {
		ca, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("no certificates found in %v", c.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
