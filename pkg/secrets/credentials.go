package secrets

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eventstack/maestro/pkg/directive"
	"github.com/eventstack/maestro/pkg/fault"
)

type Protocol string

const (
	ProtocolPlaintext Protocol = "plaintext"
	ProtocolAuthTLS   Protocol = "auth+tls"
)

// Credentials is the structured result of mapping a secret-service response.
// It never leaves the supervisor except embedded in a SecurityDirective.
type Credentials struct {
	Username  string
	Password  string
	Mechanism string
}

// SecurityDirective carries everything a worker needs to authenticate against
// one (topic, role). AuthConfig is empty for plaintext.
type SecurityDirective struct {
	Topic      string
	Role       directive.Role
	Protocol   Protocol
	AuthConfig Secret
}

// BuildAuthConfig assembles the JAAS-style auth string consumed by the
// message-bus client.
func BuildAuthConfig(c Credentials) Secret {
	return NewSecret(fmt.Sprintf(
		`username=%q password=%q mechanism=%q;`,
		c.Username, c.Password, c.Mechanism,
	))
}

var authConfigRe = regexp.MustCompile(`(\w+)="((?:[^"\\]|\\.)*)"`)

// ParseAuthConfig recovers Credentials from an auth config string. The only
// caller is the worker kafka-client setup.
func ParseAuthConfig(s Secret) (Credentials, error) {
	raw := s.Unsafe()
	if raw == "" {
		return Credentials{}, fault.New(fault.KindConfiguration, "empty auth config")
	}

	var c Credentials
	for _, m := range authConfigRe.FindAllStringSubmatch(raw, -1) {
		val := unescape(m[2])
		switch m[1] {
		case "username":
			c.Username = val
		case "password":
			c.Password = val
		case "mechanism":
			c.Mechanism = val
		}
	}
	if c.Username == "" || c.Password == "" {
		return Credentials{}, fault.New(fault.KindConfiguration, "auth config is missing username or password")
	}
	if c.Mechanism == "" {
		c.Mechanism = "SCRAM-SHA-512"
	}
	return c, nil
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\"`, `"`)
	return strings.ReplaceAll(s, `\\`, `\`)
}
