package main

import (
	"fmt"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/wgclient/lib/config"
	"github.com/go-i2p/wgclient/lib/credential"
	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/profile"
	"github.com/go-i2p/wgclient/lib/resilience"
)

var log = logger.GetGoI2PLogger()

// app carries the flags shared by every command.
type app struct {
	configPath string
	verbose    bool

	// tokens overrides the keyring in tests.
	tokens credential.TokenStore
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	log.WithField("path", a.configPath).
		WithField("endpoint", cfg.Credential.Endpoint).
		Debug("configuration loaded")
	return cfg, nil
}

func (a *app) tokenStore(cfg *config.Config) credential.TokenStore {
	if a.tokens != nil {
		return a.tokens
	}
	return credential.NewKeyringTokenStore(credential.DefaultKeyringService, cfg.Credential.Account)
}

func (a *app) issuer(cfg *config.Config) (*credential.HTTPIssuer, error) {
	issuer, err := credential.NewHTTPIssuer(credential.HTTPConfig{
		Endpoint:       cfg.Credential.Endpoint,
		Tokens:         a.tokenStore(cfg),
		RequestTimeout: cfg.Credential.RequestTimeout,
		MaxAttempts:    cfg.Credential.MaxAttempts,
		RetryDelay:     cfg.Credential.RetryDelay,
		Breaker:        resilience.DefaultCircuitBreakerConfig(),
		EpochLength:    cfg.Credential.EpochLength,
		EpochBuffer:    cfg.Credential.EpochBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("creating credential client: %w", err)
	}
	return issuer, nil
}

func builder(cfg *config.Config) *profile.Builder {
	return &profile.Builder{
		RouteExclusion: cfg.Tunnel.RouteExclusion,
		DNS:            cfg.DNSAddrs(),
		MTU:            cfg.Tunnel.MTU,
	}
}

func knownServer(cfg *config.Config, id string) error {
	if _, ok := cfg.Server(id); !ok {
		return apperrors.New(apperrors.CodeInvalidInput, fmt.Sprintf("unknown server %q (see: wgclient servers)", id))
	}
	return nil
}
