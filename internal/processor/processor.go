package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sketchsync/internal/retry"
	"github.com/sketchsync/pkg/models"
)

// targetTopic marks enrolled events as claimed by this processor.
const targetTopic = "syncsketch.proc"

// Processor is the polling loop. It enrolls pending events one at a time,
// round-robining over the registered topics in priority order, dispatches
// each to its handler and reports the outcome back to the queue.
//
// Processing is single threaded on purpose: the ftrack session is not safe
// for concurrent use, and serial processing is what makes the content-based
// note dedup sound. Two concurrent writers could each read "no duplicate"
// before either commits.
type Processor struct {
	queue        EventQueue
	registry     *Registry
	pollInterval time.Duration
	statusRetry  retry.RetryConfig
}

// New creates a processor polling the queue at the given interval.
func New(queue EventQueue, registry *Registry, pollInterval time.Duration) *Processor {
	return &Processor{
		queue:        queue,
		registry:     registry,
		pollInterval: pollInterval,
		statusRetry:  retry.DefaultRetryConfig(),
	}
}

// Run polls until the context is cancelled. Enrollment failures are logged
// and retried after the poll interval; they never stop the loop.
func (p *Processor) Run(ctx context.Context) error {
	log.Info().
		Strs("topics", p.registry.Topics()).
		Dur("poll_interval", p.pollInterval).
		Msg("Listening for review events")

	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("Shutting down event loop")
			return err
		}

		event, err := p.enrollNext(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Unable to enroll for events")
			p.sleep(ctx)
			continue
		}
		if event == nil {
			p.sleep(ctx)
			continue
		}

		p.dispatch(ctx, event)
	}
}

// enrollNext asks the queue for one pending event, trying each topic in
// priority order. It returns nil when nothing is pending.
func (p *Processor) enrollNext(ctx context.Context) (*models.ReviewEvent, error) {
	for _, topic := range p.registry.Topics() {
		event, err := p.queue.EnrollNextEvent(
			ctx, topic, targetTopic, fmt.Sprintf("%q processing", topic))
		if err != nil {
			return nil, err
		}
		if event != nil {
			return event, nil
		}
		log.Debug().Str("topic", topic).Msg("No pending event for topic")
	}
	return nil, nil
}

// dispatch runs one enrolled event through its handler and reports
// finished or failed back to the queue.
func (p *Processor) dispatch(ctx context.Context, event *models.ReviewEvent) {
	status := models.EventStatusFailed

	source, err := p.queue.GetEvent(ctx, event.DependsOn)
	switch {
	case err != nil:
		log.Error().
			Str("event", event.ID).
			Str("source_event", event.DependsOn).
			Err(err).
			Msg("Unable to fetch source event")

	case len(source.Payload) == 0 || string(source.Payload) == "null":
		// leecher occasionally emits an event before the payload lands
		log.Warn().Str("event", event.ID).Msg("Source event has no payload")
		status = models.EventStatusFinished

	default:
		status = p.process(ctx, event.Topic, source.Payload)
	}

	// A lost status report leaves the event claimed as in_progress forever,
	// so transient queue errors are worth a few retries.
	result := retry.RetryWithBackoff(ctx, p.statusRetry, log.Logger, func() error {
		return p.queue.UpdateEventStatus(ctx, event.ID, status)
	})
	if !result.Success {
		log.Error().
			Str("event", event.ID).
			Str("status", status).
			Err(result.LastError).
			Msg("Unable to report event status")
	}
}

func (p *Processor) process(ctx context.Context, topic string, payload []byte) string {
	handler, ok := p.registry.Get(topic)
	if !ok {
		log.Error().Str("topic", topic).Msg("No handler registered for topic")
		return models.EventStatusFailed
	}

	if err := handler.Process(ctx, payload); err != nil {
		log.Error().Str("topic", topic).Err(err).Msg("Event processing failed")
		return models.EventStatusFailed
	}

	log.Info().Str("topic", topic).Msg("Event processed")
	return models.EventStatusFinished
}

func (p *Processor) sleep(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
