// Package policy resolves the operator-configured destination rules —
// allow-list, private-address rejection, and the signing secret — into
// the shapes the delivery client and delivery task consume.
package policy

import (
	"context"
	"fmt"
	"regexp"

	"github.com/complyflow/webhook-core/config"
	"github.com/complyflow/webhook-core/deliveryclient"
	"github.com/complyflow/webhook-core/webhook/signature"
)

// Policy is the resolved destination policy for one process: whether
// loopback/private destinations are permitted, an optional allow-list
// regular expression, and the single signing secret applied to every
// outbound delivery (there is no per-destination secret in this
// system — signing is a process-wide configuration).
type Policy struct {
	AllowPrivateDestinations bool
	AllowList                *regexp.Regexp
	Secret                   *signature.Secret
}

// FromConfig compiles and validates the policy described by cfg.
// It is the only place WEBHOOK_ALLOWLIST and WEBHOOK_HMAC_SECRET are
// parsed, so a malformed regex or secret fails fast at startup rather
// than on the first delivery attempt.
func FromConfig(cfg *config.Config) (*Policy, error) {
	p := &Policy{AllowPrivateDestinations: cfg.AllowPrivateDestinations}

	if cfg.WebhookAllowlist != "" {
		compiled, err := regexp.Compile(cfg.WebhookAllowlist)
		if err != nil {
			return nil, fmt.Errorf("compiling WEBHOOK_ALLOWLIST: %w", err)
		}
		p.AllowList = compiled
	}

	if cfg.WebhookHMACSecret != "" {
		secret, err := signature.ParseSecret(cfg.WebhookHMACSecret)
		if err != nil {
			return nil, fmt.Errorf("parsing WEBHOOK_HMAC_SECRET: %w", err)
		}
		p.Secret = &secret
	}

	return p, nil
}

// URLPolicy adapts this policy into the shape deliveryclient.Client
// validates destination URLs against.
func (p *Policy) URLPolicy() deliveryclient.URLPolicy {
	return deliveryclient.URLPolicy{
		AllowPrivateDestinations: p.AllowPrivateDestinations,
		AllowList:                p.AllowList,
	}
}

// ResolveSecret implements tasks.SecretResolver. The resolver shape
// takes a destination URL so a future per-destination secret store
// could slot in without changing callers; today it always returns the
// process-wide secret.
func (p *Policy) ResolveSecret(_ context.Context, _ string) (*signature.Secret, error) {
	return p.Secret, nil
}

// Validate reports any problems with the policy beyond what FromConfig
// already checks. It always returns nil: FromConfig's parse step is
// itself the validation.
func (p *Policy) Validate() error {
	return nil
}
