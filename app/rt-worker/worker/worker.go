// Package worker consumes one contributor's broker queue and feeds the
// payloads through the shared processing pipeline.
package worker

import (
	"context"
	"fmt"
	logger "log"
	"time"

	"github.com/jmoiron/sqlx"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/handler"
	"github.com/opentransit/rtbridge/business/parser"
	"github.com/opentransit/rtbridge/business/timetable"
)

// ContributorSource re-reads contributor configuration from storage, or an
// implementation for testing. Reads must bypass any per-process cache so
// configuration mutations are observed.
type ContributorSource interface {
	ContributorByID(id string) (*rt.Contributor, error)
}

// dbContributorSource reads contributors straight from the database
type dbContributorSource struct {
	db *sqlx.DB
}

func (s *dbContributorSource) ContributorByID(id string) (*rt.Contributor, error) {
	return rt.ContributorByID(s.db, id)
}

// Worker serves exactly one contributor. It owns a persistent broker
// connection and a single consumer with a prefetch of one message, and
// re-reads its contributor row between deliveries so configuration changes
// are observed without restarting the process.
type Worker struct {
	log            *logger.Logger
	contributors   ContributorSource
	timetable      timetable.Service
	handler        *handler.Handler
	reloadInterval time.Duration

	contributor  *rt.Contributor
	builder      parser.Builder
	brokerURL    string
	exchangeName string
	queueName    string

	shouldStop bool
}

// NewWorker validates the contributor configuration and builds a Worker.
// Every violated precondition is fatal: the supervisor owns the retry policy.
func NewWorker(log *logger.Logger, contributors ContributorSource, tt timetable.Service, h *handler.Handler,
	contributor *rt.Contributor, connectorType rt.ConnectorType, reloadInterval time.Duration) (*Worker, error) {

	if contributor.ConnectorType != connectorType {
		return nil, fmt.Errorf("contributor %q: worker requires connector type %q, got %q",
			contributor.ID, connectorType, contributor.ConnectorType)
	}
	if !contributor.IsActive {
		return nil, fmt.Errorf("contributor %q: worker requires an activated contributor", contributor.ID)
	}
	if contributor.BrokerURL == nil || *contributor.BrokerURL == "" {
		return nil, fmt.Errorf("contributor %q: missing broker_url configuration", contributor.ID)
	}
	if contributor.ExchangeName == nil || *contributor.ExchangeName == "" {
		return nil, fmt.Errorf("contributor %q: missing exchange_name configuration", contributor.ID)
	}
	if contributor.QueueName == nil || *contributor.QueueName == "" {
		return nil, fmt.Errorf("contributor %q: missing queue_name configuration", contributor.ID)
	}

	builder, err := parser.New(contributor, tt)
	if err != nil {
		return nil, err
	}

	return &Worker{
		log:            log,
		contributors:   contributors,
		timetable:      tt,
		handler:        h,
		reloadInterval: reloadInterval,
		contributor:    contributor,
		builder:        builder,
		brokerURL:      *contributor.BrokerURL,
		exchangeName:   *contributor.ExchangeName,
		queueName:      *contributor.QueueName,
	}, nil
}

// Run connects to the broker and drives the consumer until the worker flags
// itself to stop, the context is cancelled, or the broker connection drops.
// The connection is released on every exit path.
func (w *Worker) Run(ctx context.Context) error {
	conn, err := amqp.Dial(w.brokerURL)
	if err != nil {
		return fmt.Errorf("connecting to broker %s: %w", w.brokerURL, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening broker channel: %w", err)
	}
	defer func() {
		_ = channel.Close()
	}()

	// one unacknowledged message at a time
	if err = channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}

	for !w.shouldStop {
		deliveries, err := w.startConsumer(channel)
		if err != nil {
			return err
		}
		rebind, err := w.consumeLoop(ctx, deliveries)
		if err != nil {
			return err
		}
		if !rebind {
			break
		}
		if err = channel.Cancel(w.consumerTag(), false); err != nil {
			return fmt.Errorf("cancelling consumer: %w", err)
		}
	}
	w.log.Printf("worker for contributor %s stopping", w.contributor.ID)
	return nil
}

// startConsumer declares the worker's queue, binds it to the contributor's
// exchange and opens the consumer. The fanout exchange belongs to the producer
// and is deliberately never declared here, redeclaring it could alter the
// producer topology.
func (w *Worker) startConsumer(channel *amqp.Channel) (<-chan amqp.Delivery, error) {
	queue, err := channel.QueueDeclare(w.queueName,
		true,  // durable
		false, // not auto-deleted
		false, // not exclusive
		false, // no-wait off
		nil)
	if err != nil {
		return nil, fmt.Errorf("declaring queue %s: %w", w.queueName, err)
	}
	if err = channel.QueueBind(queue.Name, "", w.exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("binding queue %s to exchange %s: %w", w.queueName, w.exchangeName, err)
	}
	deliveries, err := channel.Consume(queue.Name, w.consumerTag(), false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("starting consumer on %s: %w", w.queueName, err)
	}
	w.log.Printf("consuming queue %s bound to exchange %s for contributor %s",
		w.queueName, w.exchangeName, w.contributor.ID)
	return deliveries, nil
}

// consumeLoop selects between deliveries and the configuration reload ticker.
// Probes only run between deliveries, an in-flight payload always completes.
// Returns rebind=true when the consumer must be re-established on new
// exchange or queue names.
func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) (bool, error) {
	ticker := time.NewTicker(w.reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shouldStop = true
			return false, nil
		case delivery, ok := <-deliveries:
			if !ok {
				return false, fmt.Errorf("broker closed the delivery channel for %s", w.contributor.ID)
			}
			w.handleDelivery(ctx, delivery)
		case <-ticker.C:
			rebind := w.probe()
			if w.shouldStop || rebind {
				return rebind, nil
			}
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	if delivery.ContentType != "" && delivery.ContentType != "application/json" {
		w.log.Printf("discarding message with unsupported content type %q on %s", delivery.ContentType, w.queueName)
		_ = delivery.Reject(false)
		return
	}
	if err := w.handler.Process(ctx, w.contributor, w.builder, delivery.Body); err != nil {
		w.log.Printf("error processing message for contributor %s: %v", w.contributor.ID, err)
	}
	// TODO: requeue instead of acknowledging when processing failed
	if err := delivery.Ack(false); err != nil {
		w.log.Printf("error acknowledging message for contributor %s: %v", w.contributor.ID, err)
	}
}

// probe reloads the contributor row from storage, bypassing any per-process
// cache, and reacts to configuration divergence:
//
//   - contributor gone or deactivated: stop, the supervisor will not relaunch
//   - broker URL changed: stop, rebinding an existing connection is not
//     attempted since a different broker may be on the other side
//   - exchange or queue name changed: rebuild the descriptors and rebind
//
// The builder reference is always refreshed so subsequent processing uses the
// updated contributor configuration.
func (w *Worker) probe() (rebind bool) {
	contributor, err := w.contributors.ContributorByID(w.contributor.ID)
	if err != nil {
		w.log.Printf("error reloading contributor %s: %v", w.contributor.ID, err)
		return false
	}
	if contributor == nil || !contributor.IsActive {
		w.log.Printf("contributor %s doesn't exist anymore, let the worker die", w.contributor.ID)
		w.shouldStop = true
		return false
	}
	if contributor.BrokerURL == nil || *contributor.BrokerURL != w.brokerURL {
		w.log.Printf("broker URL for contributor %s changed, let the worker die", contributor.ID)
		w.shouldStop = true
		return false
	}
	if contributor.ExchangeName != nil && *contributor.ExchangeName != w.exchangeName {
		w.log.Printf("exchange name for contributor %s changed to %s, worker updated", contributor.ID, *contributor.ExchangeName)
		w.exchangeName = *contributor.ExchangeName
		rebind = true
	}
	if contributor.QueueName != nil && *contributor.QueueName != w.queueName {
		w.log.Printf("queue name for contributor %s changed to %s, worker updated", contributor.ID, *contributor.QueueName)
		w.queueName = *contributor.QueueName
		rebind = true
	}

	builder, err := parser.New(contributor, w.timetable)
	if err != nil {
		w.log.Printf("error rebuilding parser for contributor %s: %v", contributor.ID, err)
		return rebind
	}
	w.contributor = contributor
	w.builder = builder
	return rebind
}

func (w *Worker) consumerTag() string {
	return "rtbridge-" + w.contributor.ID
}
