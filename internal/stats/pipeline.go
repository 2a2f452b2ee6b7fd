// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/metrics"
)

// Topics the webhook receivers publish to.
const (
	TopicEvents = "stats.events"
	TopicCDR    = "stats.cdr"

	metaCluster = "cluster_id"
)

// Pipeline buffers webhook deliveries through NATS JetStream so a
// burst of CDR posts from a busy bridge never blocks its HTTP
// delivery. With the pipeline disabled, Feed applies bodies
// synchronously. It runs as a service under the supervisor.
type Pipeline struct {
	ingestor *Ingestor
	cfg      config.EventsConfig
	logger   watermill.LoggerAdapter
	breaker  *gobreaker.CircuitBreaker[any]

	mu  sync.Mutex
	pub message.Publisher
}

func NewPipeline(in *Ingestor, cfg config.EventsConfig) *Pipeline {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 30 * time.Second
	}
	if cfg.DurableName == "" {
		cfg.DurableName = "confatlas"
	}
	return &Pipeline{
		ingestor: in,
		cfg:      cfg,
		logger:   watermill.NewStdLogger(false, false),
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    "event-publish",
			Timeout: 30 * time.Second,
		}),
	}
}

func (p *Pipeline) String() string { return "event-pipeline" }

// Feed hands one webhook body to the pipeline.
func (p *Pipeline) Feed(ctx context.Context, topic string, clusterID int64, body []byte) error {
	if !p.cfg.Enabled {
		return p.apply(ctx, topic, clusterID, body)
	}
	p.mu.Lock()
	pub := p.pub
	p.mu.Unlock()
	if pub == nil {
		return errors.New("stats: event pipeline not running")
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(metaCluster, strconv.FormatInt(clusterID, 10))
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, pub.Publish(topic, msg)
	})
	return err
}

// apply routes one body to the matching ingest path.
func (p *Pipeline) apply(ctx context.Context, topic string, clusterID int64, body []byte) error {
	c, err := p.ingestor.db.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if topic == TopicCDR {
		return p.ingestor.HandleCDR(ctx, c, body)
	}
	return p.ingestor.HandleEvent(ctx, c, body)
}

// Serve runs the broker connection and the consuming router until the
// context is cancelled. With the pipeline disabled it just blocks.
func (p *Pipeline) Serve(ctx context.Context) error {
	if !p.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	url := p.cfg.URL
	if p.cfg.EmbeddedServer {
		ns, err := server.NewServer(&server.Options{
			ServerName: "confatlas-events",
			JetStream:  true,
			StoreDir:   p.cfg.StoreDir,
		})
		if err != nil {
			return fmt.Errorf("stats: create nats server: %w", err)
		}
		ns.ConfigureLogger()
		go ns.Start()
		if !ns.ReadyForConnections(30 * time.Second) {
			ns.Shutdown()
			return errors.New("stats: nats server not ready")
		}
		url = ns.ClientURL()
		defer func() {
			ns.Shutdown()
			ns.WaitForShutdown()
		}()
		logging.Info().Str("url", url).Msg("embedded nats server running")
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: p.natsOptions(),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, p.logger)
	if err != nil {
		return fmt.Errorf("stats: create publisher: %w", err)
	}
	p.mu.Lock()
	p.pub = pub
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.pub = nil
		p.mu.Unlock()
		if err := pub.Close(); err != nil {
			logging.Warn().Err(err).Msg("event publisher close failed")
		}
	}()

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:          url,
		NatsOptions:  p.natsOptions(),
		Unmarshaler:  &wmNats.NATSMarshaler{},
		CloseTimeout: p.cfg.CloseTimeout,
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: p.cfg.DurableName,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(p.cfg.RetryCount),
				natsgo.DeliverNew(),
			},
		},
	}, p.logger)
	if err != nil {
		return fmt.Errorf("stats: create subscriber: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: p.cfg.CloseTimeout}, p.logger)
	if err != nil {
		return fmt.Errorf("stats: create router: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:      p.cfg.RetryCount,
		InitialInterval: p.cfg.RetryDelay,
		Logger:          p.logger,
	}
	router.AddMiddleware(middleware.Recoverer, retry.Middleware)
	router.AddNoPublisherHandler("ingest-events", TopicEvents, sub, p.consumeEvent)
	router.AddNoPublisherHandler("ingest-cdr", TopicCDR, sub, p.consumeCDR)

	return router.Run(ctx)
}

func (p *Pipeline) consumeEvent(msg *message.Message) error {
	return p.consume(msg, TopicEvents)
}

func (p *Pipeline) consumeCDR(msg *message.Message) error {
	return p.consume(msg, TopicCDR)
}

func (p *Pipeline) consume(msg *message.Message, topic string) error {
	clusterID, err := strconv.ParseInt(msg.Metadata.Get(metaCluster), 10, 64)
	if err != nil {
		// malformed metadata never becomes valid, drop it
		logging.Warn().Str("msg", msg.UUID).Msg("dropping message without cluster id")
		metrics.EventsConsumed.WithLabelValues(topic, "dropped").Inc()
		return nil
	}
	if err := p.apply(msg.Context(), topic, clusterID, msg.Payload); err != nil {
		metrics.EventsConsumed.WithLabelValues(topic, "error").Inc()
		return err
	}
	metrics.EventsConsumed.WithLabelValues(topic, "ok").Inc()
	return nil
}

func (p *Pipeline) natsOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(p.cfg.RetryDelay),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
}
