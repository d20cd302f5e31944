package parser

import (
	"context"
	"fmt"
	"os"
	"time"

	"campus-sdn-controller/internal/config"
	"campus-sdn-controller/internal/logging"
	"campus-sdn-controller/internal/metrics"
	"campus-sdn-controller/internal/model"
)

// LoadNetwork fetches the raw network spec from the provider cfg selects.
// The result is not resolved yet.
func LoadNetwork(ctx context.Context, cfg *config.Config) (*model.NetworkSpec, error) {
	provider := cfg.Provider.Type
	if provider == "" {
		provider = config.ProviderYAML
	}
	log := logging.LoggerForProvider(provider)

	start := time.Now()
	spec, err := loadNetwork(ctx, provider, cfg)
	metrics.RecordProviderLoad(provider, err, time.Since(start))
	if err != nil {
		log.Error(err, "Failed to load network")
		return nil, err
	}
	log.Info("Network loaded",
		"hosts", len(spec.Hosts),
		"subnets", len(spec.Subnets),
		"switches", len(spec.Switches),
		"rules", len(spec.Rules),
		"duration", time.Since(start).String(),
	)
	return spec, nil
}

func loadNetwork(ctx context.Context, provider string, cfg *config.Config) (*model.NetworkSpec, error) {
	switch provider {
	case config.ProviderYAML:
		return cfg.NetworkSpec()
	case config.ProviderScript:
		if cfg.Provider.Script == "" {
			return nil, fmt.Errorf("network script path must be provided for script provider")
		}
		file, err := os.Open(cfg.Provider.Script)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		p := NewScriptParser(file)
		if err := p.Parse(); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Provider.Script, err)
		}
		return p.Spec, nil
	case config.ProviderMariaDB:
		if cfg.Provider.DSN == "" {
			return nil, fmt.Errorf("database connection string must be provided for mariadb provider")
		}
		p, err := NewMariaDBParser(ctx, cfg.Provider.DSN, ConnectOptions{
			Timeout:     cfg.Provider.ConnectTimeout,
			MaxInterval: cfg.Provider.MaxRetryInterval,
		})
		if err != nil {
			return nil, err
		}
		defer p.Close()
		if err := p.Parse(ctx); err != nil {
			return nil, err
		}
		return p.Spec, nil
	default:
		return nil, fmt.Errorf("unknown network provider: %s", provider)
	}
}
