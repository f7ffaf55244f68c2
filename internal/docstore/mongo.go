package docstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
)

// DialConfig describes how to reach MongoDB
type DialConfig struct {
	URL     string
	Timeout time.Duration // Connect and server selection timeout
	TLS     bool
	CAFile  string
	Retry   common.RetryPolicy // Zero value dials once
	Clock   clock.Clock
}

// NewDialConfig builds a DialConfig from the mongo section of the configuration
func NewDialConfig(config *common.MongoConfig) DialConfig {
	return DialConfig{
		URL:     config.URL,
		Timeout: common.ParseDurationOr(config.ConnectTimeout, 30*time.Second),
		TLS:     config.TLS,
		CAFile:  config.CAFile,
		Retry:   common.NewRetryPolicy(config.RetryAttempts, config.RetryDelay),
	}
}

// MongoStore implements Store on an mgo session
type MongoStore struct {
	session *mgo.Session
	logger  arbor.ILogger
}

// Dial connects and pings, retrying under cfg.Retry. Any failure after the
// last attempt wraps ErrUnreachable.
func Dial(ctx context.Context, cfg DialConfig, logger arbor.ILogger) (*MongoStore, error) {
	info, err := dialInfo(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	var session *mgo.Session
	err = cfg.Retry.Do(ctx, cfg.Clock, func(attempt int) error {
		logger.Debug().Int("attempt", attempt).Strs("addrs", info.Addrs).Msg("Connecting to document store")

		s, err := mgo.DialWithInfo(info)
		if err != nil {
			return err
		}
		if err := s.Ping(); err != nil {
			s.Close()
			return err
		}
		session = s
		return nil
	}, func(err error, attempt int) {
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", cfg.Retry.Attempts).Msg("Document store connection failed")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	session.SetMode(mgo.Monotonic, true)
	if cfg.Timeout > 0 {
		session.SetSyncTimeout(cfg.Timeout)
	}

	logger.Info().Strs("addrs", info.Addrs).Msg("Connected to document store")

	return &MongoStore{session: session, logger: logger}, nil
}

// NewOpener returns an Opener that dials with cfg on every call
func NewOpener(cfg DialConfig, logger arbor.ILogger) Opener {
	return func(ctx context.Context) (Store, error) {
		store, err := Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func dialInfo(cfg DialConfig) (*mgo.DialInfo, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("connection string is empty (set MONGO_DB_URL or mongo.url)")
	}

	info, err := mgo.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	info.Timeout = cfg.Timeout

	if cfg.TLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file %s: %w", cfg.CAFile, err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}

		dialer := &net.Dialer{Timeout: cfg.Timeout}
		info.DialServer = func(addr *mgo.ServerAddr) (net.Conn, error) {
			return tls.DialWithDialer(dialer, "tcp", addr.String(), tlsConfig)
		}
	}

	return info, nil
}

// Ping checks the connection is still usable
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.session.Ping(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return nil
}

// CollectionNames lists the collections of database
func (s *MongoStore) CollectionNames(ctx context.Context, database string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := s.session.DB(database).CollectionNames()
	if err != nil {
		return nil, s.classify(err)
	}
	return names, nil
}

// Records returns every document of database.collection without _id
func (s *MongoStore) Records(ctx context.Context, database, collection string) ([]bson.D, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []bson.D
	err := s.session.DB(database).C(collection).Find(nil).Select(bson.M{"_id": 0}).All(&docs)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", database, collection, s.classify(err))
	}

	s.logger.Debug().Str("database", database).Str("collection", collection).Int("records", len(docs)).Msg("Read collection")
	return docs, nil
}

// classify marks err as ErrUnreachable when the session no longer answers pings
func (s *MongoStore) classify(err error) error {
	if pingErr := s.session.Ping(); pingErr != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return err
}

// Close releases the session
func (s *MongoStore) Close() {
	if s.session != nil {
		s.session.Close()
	}
}
