package webhook

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/cibridge/internal/config"
)

// FromConfig converts config.WebhooksConfig to webhook.Config, applying the
// default signature header and parsing max body sizes.
func FromConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, errors.New("webhooks config is nil")
	}

	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, len(wc.Endpoints)),
	}
	for i, ep := range wc.Endpoints {
		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}
		header := ep.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		cfg.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: header,
			MaxBodySize:     maxBodySize,
		}
	}
	return cfg, nil
}

var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// parseMaxBodySize parses "1MB", "512KB" or "2048576". Empty means
// DefaultMaxBodySize.
func parseMaxBodySize(size string) (int64, error) {
	size = strings.ToUpper(strings.TrimSpace(size))
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	multiplier := int64(1)
	for _, u := range sizeUnits {
		if trimmed, ok := strings.CutSuffix(size, u.suffix); ok {
			size, multiplier = trimmed, u.multiplier
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(size), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, errors.New("size must be positive")
	}
	if value > (1<<62)/multiplier {
		return 0, errors.New("size too large")
	}
	return value * multiplier, nil
}
