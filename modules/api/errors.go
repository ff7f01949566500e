package api

import (
	"net/http"

	"github.com/eventstack/maestro/pkg/fault"
)

// classify maps a fault kind to the envelope kind and HTTP status.
func classify(err error) (int, string) {
	switch fault.KindOf(err) {
	case fault.KindConfiguration, fault.KindValidation,
		fault.KindBucketURIParse, fault.KindInvalidBootstrapServers,
		fault.KindDuplicateTopic, fault.KindInvalidTopicDirective:
		return http.StatusBadRequest, "validation_error"
	case fault.KindNotFound:
		return http.StatusNotFound, "not_found"
	case fault.KindServiceTimeout:
		return http.StatusGatewayTimeout, "timeout"
	case fault.KindServiceUnavailable:
		return http.StatusServiceUnavailable, "service_unavailable"
	case fault.KindNotReady:
		return http.StatusServiceUnavailable, "not_ready"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}
