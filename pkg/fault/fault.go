package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind labels a failure with the taxonomy used across the orchestrator. Kinds
// surface in test status responses and drive the retry policy; they are not
// Go types so that new kinds can cross module boundaries without churn.
type Kind string

const (
	KindConfiguration      Kind = "Configuration"
	KindValidation         Kind = "Validation"
	KindTransient          Kind = "Transient"
	KindTransientExhausted Kind = "TransientExhausted"
	KindAuth               Kind = "Auth"
	KindNotFound           Kind = "NotFound"
	KindClient             Kind = "Client"
	KindMapping            Kind = "Mapping"
	KindExecutor           Kind = "Executor"
	KindDSL                Kind = "DSL"
	KindInternal           Kind = "Internal"

	// object store
	KindMissingFeaturesDirectory  Kind = "MissingFeaturesDirectory"
	KindEmptyFeaturesDirectory    Kind = "EmptyFeaturesDirectory"
	KindMissingTopicDirectiveFile Kind = "MissingTopicDirectiveFile"
	KindInvalidTopicDirective     Kind = "InvalidTopicDirectiveFormat"
	KindBucketURIParse            Kind = "BucketUriParse"
	KindStreamingFailure          Kind = "StreamingFailure"

	// directive validation
	KindDuplicateTopic           Kind = "DuplicateTopic"
	KindInvalidBootstrapServers  Kind = "InvalidBootstrapServers"

	// worker / executor
	KindProduceError    Kind = "ProduceError"
	KindTeardownTimeout Kind = "TeardownTimeout"
	KindCancelled       Kind = "Cancelled"

	// dsl gateway
	KindDSLNotInitialized            Kind = "DslNotInitialized"
	KindProducerNotAvailable         Kind = "ProducerNotAvailable"
	KindConsumerNotAvailable         Kind = "ConsumerNotAvailable"
	KindSchemaRegistryNotInitialized Kind = "SchemaRegistryNotInitialized"
	KindSchemaNotFound               Kind = "SchemaNotFound"

	// control plane
	KindServiceTimeout     Kind = "ServiceTimeout"
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindNotReady           Kind = "NotReady"
)

// Error carries a Kind alongside the usual wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind attached to err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is worth retrying. Errors explicitly kinded
// take precedence; otherwise network timeouts and resets count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsTerminalKind reports whether a kind should fail the test immediately,
// with no retry.
func IsTerminalKind(k Kind) bool {
	switch k {
	case KindTransient:
		return false
	default:
		return true
	}
}
