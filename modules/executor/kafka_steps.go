package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"github.com/eventstack/maestro/modules/worker"
)

func init() {
	RegisterGlue(kafkaSteps{})
}

// kafkaSteps is the builtin "kafka" glue package: produce, await-by
// correlation, schema lookup, and a cancellable wait.
type kafkaSteps struct{}

func (kafkaSteps) Name() string { return "kafka" }

func (kafkaSteps) Register(sc *godog.ScenarioContext, env *Env) {
	sc.Step(`^I produce event "([^"]*)" to topic "([^"]*)"$`, func(ctx context.Context, eventTestID, topic string) error {
		payload := fmt.Sprintf(`{"eventTestId":%q}`, eventTestID)
		return produce(ctx, env, topic, eventTestID, []byte(payload))
	})

	sc.Step(`^I produce event "([^"]*)" to topic "([^"]*)" with payload:$`, func(ctx context.Context, eventTestID, topic string, body *godog.DocString) error {
		return produce(ctx, env, topic, eventTestID, []byte(body.Content))
	})

	sc.Step(`^I receive event "([^"]*)" from topic "([^"]*)" within (\d+) seconds?$`, func(ctx context.Context, eventTestID, topic string, secs int) error {
		if err := checkStopped(env); err != nil {
			return err
		}
		timeout := time.Duration(secs) * time.Second
		if timeout <= 0 {
			timeout = env.FetchTimeout
		}
		_, err := env.DSL.FetchByCorrelation(ctx, topic, eventTestID, timeout)
		return err
	})

	sc.Step(`^the schema for subject "([^"]*)" exists$`, func(subject string) error {
		if err := checkStopped(env); err != nil {
			return err
		}
		_, err := env.DSL.Schema(subject)
		return err
	})

	sc.Step(`^I wait for (\d+) seconds?$`, func(ctx context.Context, secs int) error {
		timer := time.NewTimer(time.Duration(secs) * time.Second)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-env.Stopping():
			return errTestStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

var errTestStopped = fmt.Errorf("test stopped")

func checkStopped(env *Env) error {
	select {
	case <-env.Stopping():
		return errTestStopped
	default:
		return nil
	}
}

func produce(ctx context.Context, env *Env, topic, eventTestID string, payload []byte) error {
	if err := checkStopped(env); err != nil {
		return err
	}
	_, err := env.DSL.Produce(ctx, topic, worker.ProduceRequest{
		EventTestID: eventTestID,
		Payload:     payload,
	})
	return err
}
