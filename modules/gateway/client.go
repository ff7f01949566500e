package gateway

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sony/gobreaker"

	"github.com/eventstack/maestro/pkg/fault"
	"github.com/eventstack/maestro/pkg/teststate"
	"github.com/eventstack/maestro/pkg/util"
)

// Dispatcher is the ask surface the client wraps. Implemented by the
// admission dispatcher.
type Dispatcher interface {
	Submit(ctx context.Context) (string, error)
	Start(ctx context.Context, testID, bucketRef, testType string, tags []string) (accepted bool, reason string, err error)
	Status(ctx context.Context, testID string) (teststate.Status, error)
	QueueStatus(ctx context.Context, testID string) (teststate.QueueStatus, error)
	Cancel(ctx context.Context, testID string) (cancelled bool, reason string, err error)
	Ready() bool
}

type ClientConfig struct {
	AskTimeout time.Duration `yaml:"ask_timeout"`

	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerOpenFor     time.Duration `yaml:"breaker_open_for"`
}

func (cfg *ClientConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.AskTimeout, util.PrefixConfig(prefix, "ask-timeout"), 5*time.Second, "Timeout applied to every control-plane ask.")
	cfg.BreakerMaxFailures = 5
	cfg.BreakerOpenFor = 10 * time.Second
}

// Client is the curried control-plane entry point. Every call wraps the
// dispatcher ask with a timeout and routes through a circuit breaker so that
// a wedged dispatcher degrades to fast ServiceUnavailable failures.
type Client struct {
	cfg     ClientConfig
	d       Dispatcher
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

func NewClient(cfg ClientConfig, d Dispatcher, logger log.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		d:      d,
		logger: log.With(logger, "component", "gateway-client"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "control-plane",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		// only infrastructure faults trip the breaker; a test that does
		// not exist is a healthy answer
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return fault.KindOf(err) != fault.KindInternal
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level.Warn(c.logger).Log("msg", "circuit state change", "breaker", name, "from", from, "to", to)
		},
	})
	return c
}

func (c *Client) ask(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	if !c.d.Ready() {
		return nil, fault.New(fault.KindNotReady, "orchestrator is not ready")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AskTimeout)
	defer cancel()

	res, err := c.breaker.Execute(func() (any, error) {
		return op(ctx)
	})
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fault.Wrap(fault.KindServiceUnavailable, err, "control plane unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fault.Wrap(fault.KindServiceTimeout, err, "control plane ask timed out")
	default:
		return nil, err
	}
}

func (c *Client) InitializeTest(ctx context.Context) (string, error) {
	res, err := c.ask(ctx, func(ctx context.Context) (any, error) {
		return c.d.Submit(ctx)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

type startReply struct {
	accepted bool
	reason   string
}

func (c *Client) StartTest(ctx context.Context, testID, bucketRef, testType string, tags []string) (bool, string, error) {
	res, err := c.ask(ctx, func(ctx context.Context) (any, error) {
		accepted, reason, err := c.d.Start(ctx, testID, bucketRef, testType, tags)
		return startReply{accepted, reason}, err
	})
	if err != nil {
		return false, "", err
	}
	r := res.(startReply)
	return r.accepted, r.reason, nil
}

func (c *Client) GetStatus(ctx context.Context, testID string) (teststate.Status, error) {
	res, err := c.ask(ctx, func(ctx context.Context) (any, error) {
		return c.d.Status(ctx, testID)
	})
	if err != nil {
		return teststate.Status{}, err
	}
	return res.(teststate.Status), nil
}

func (c *Client) GetQueueStatus(ctx context.Context, testID string) (teststate.QueueStatus, error) {
	res, err := c.ask(ctx, func(ctx context.Context) (any, error) {
		return c.d.QueueStatus(ctx, testID)
	})
	if err != nil {
		return teststate.QueueStatus{}, err
	}
	return res.(teststate.QueueStatus), nil
}

type cancelReply struct {
	cancelled bool
	reason    string
}

func (c *Client) CancelTest(ctx context.Context, testID string) (bool, string, error) {
	res, err := c.ask(ctx, func(ctx context.Context) (any, error) {
		cancelled, reason, err := c.d.Cancel(ctx, testID)
		return cancelReply{cancelled, reason}, err
	})
	if err != nil {
		return false, "", err
	}
	r := res.(cancelReply)
	return r.cancelled, r.reason, nil
}

// Health asks for a queue snapshot; a dispatcher that cannot answer is
// considered wedged.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.GetQueueStatus(ctx, "")
	return err
}
