// Command captoken prints a capability token for the ledger's HTTP surface,
// signed with the configured capability secret.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"credline/internal/platform/config"
	"credline/pkg/capability"
	id "credline/pkg/domain"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	subject := flag.String("subject", "", "address the token is issued to")
	role := flag.String("role", string(capability.RoleHolder), "holder or operator")
	flag.Parse()

	token, err := issue(*configPath, *subject, capability.Role(*role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "captoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func issue(configPath, subject string, role capability.Role) (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Capability.Secret == "" {
		return "", errors.New("capability.secret is not configured")
	}
	caller, err := id.ParseAddress(subject)
	if err != nil {
		return "", err
	}
	issuer, err := capability.NewIssuer(cfg.Capability.Secret, capability.WithTTL(cfg.Capability.TTL))
	if err != nil {
		return "", err
	}
	return issuer.Issue(caller, role)
}
