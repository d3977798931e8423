package redis

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/gwatts/rootcerts"

	"github.com/circleci/replay/config/secret"
)

const defaultName = "redis"

type Options struct {
	// Name identifies the client in health checks and metrics.
	Name     string
	Host     string
	Port     int
	User     string
	Password secret.String
	DB       int

	TLS bool
	// CAFunc supplies the trusted roots when TLS is on. The default is the
	// Mozilla bundle compiled into the binary, which works in scratch images.
	CAFunc func() *x509.CertPool
}

func (o Options) name() string {
	if o.Name == "" {
		return defaultName
	}
	return o.Name
}

// New returns a client for o. Closing it is up to the caller; use Load to let a
// system.System do that.
func New(o Options) *redis.Client {
	opts := &redis.Options{
		Addr:     net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Username: o.User,
		Password: o.Password.Raw(),
		DB:       o.DB,
	}
	if o.TLS {
		roots := rootcerts.ServerCertPool
		if o.CAFunc != nil {
			roots = o.CAFunc
		}
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: o.Host,
			RootCAs:    roots(),
		}
	}
	return redis.NewClient(opts)
}
