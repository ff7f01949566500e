package secrets

import (
	"github.com/eventstack/maestro/pkg/fault"
)

// classifyStatus maps a secret-service HTTP status onto the retry taxonomy.
func classifyStatus(code int) fault.Kind {
	switch {
	case code == 429 || code == 503:
		return fault.KindTransient
	case code == 401 || code == 403:
		return fault.KindAuth
	case code == 404:
		return fault.KindNotFound
	case code >= 400 && code < 500:
		return fault.KindClient
	case code >= 500:
		return fault.KindTransient
	default:
		return fault.KindInternal
	}
}
