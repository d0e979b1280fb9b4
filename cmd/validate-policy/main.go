package main

import (
	"fmt"
	"os"

	"github.com/complyflow/webhook-core/config"
	"github.com/complyflow/webhook-core/policy"
)

/* validate-policy - Standalone CLI tool to validate the destination
 * policy (WEBHOOK_ALLOWLIST, WEBHOOK_HMAC_SECRET, ALLOW_PRIVATE_DESTINATIONS)
 * built from the current environment.
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	fmt.Println("Validating destination policy from environment")
	fmt.Println(string(make([]byte, 50)))

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p, err := policy.FromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Allow private destinations: %v\n", p.AllowPrivateDestinations)
	if p.AllowList != nil {
		fmt.Printf("Allow-list regex:           %s\n", p.AllowList.String())
	} else {
		fmt.Printf("Allow-list regex:           (none — all public destinations accepted)\n")
	}
	if p.Secret != nil {
		fmt.Printf("Signing secret:             configured\n")
	} else {
		fmt.Printf("Signing secret:             (none — deliveries unsigned)\n")
	}

	fmt.Printf("\n✓ Policy is valid!\n")
	os.Exit(0)
}
