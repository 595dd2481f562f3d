// Package service assembles the unsmesh pipeline: the MQTT transport, the
// Sparkplug republisher, and the graph and historian sinks, routed per topic
// namespace and managed as one lifecycle component.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/thepwizard/unifiednamespace/component"
	"github.com/thepwizard/unifiednamespace/config"
	"github.com/thepwizard/unifiednamespace/errors"
	"github.com/thepwizard/unifiednamespace/health"
	"github.com/thepwizard/unifiednamespace/historian"
	"github.com/thepwizard/unifiednamespace/metric"
	"github.com/thepwizard/unifiednamespace/mqttclient"
	"github.com/thepwizard/unifiednamespace/republisher"
	neo4jstore "github.com/thepwizard/unifiednamespace/storage/neo4j"
	"github.com/thepwizard/unifiednamespace/uns"
)

// Version is stamped at build time.
var Version = "dev"

// Pipeline is the assembled message flow. It implements
// component.LifecycleComponent so the binary can manage it uniformly.
type Pipeline struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.Registry
	monitor  *health.Monitor

	mqtt        *mqttclient.Client
	transformer *uns.Transformer
	graphStore  *neo4jstore.Store
	historian   *historian.Historian
	republisher *republisher.Republisher

	clientID  string
	state     component.State
	startedAt time.Time

	errorCount   atomic.Int64
	processed    atomic.Int64
	lastActivity atomic.Value // time.Time
}

// Deps carries the dependencies for NewPipeline.
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *metric.Registry
	Monitor  *health.Monitor
}

// NewPipeline creates an unstarted pipeline.
func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Config == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: config is required", errors.ErrMissingConfig),
			"service.Pipeline", "NewPipeline", "dependency validation")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = metric.NewRegistry()
	}
	monitor := deps.Monitor
	if monitor == nil {
		monitor = health.NewMonitor(nil)
	}
	return &Pipeline{
		cfg:      deps.Config,
		logger:   logger.With("component", "pipeline"),
		registry: registry,
		monitor:  monitor,
		state:    component.StateCreated,
	}, nil
}

// Initialize builds the transport and the enabled sinks that need no network.
func (p *Pipeline) Initialize() error {
	core := p.registry.Core

	mqttCfg := mqttclient.Config{
		BrokerURL:      p.cfg.MQTT.BrokerURL,
		ClientIDPrefix: p.cfg.MQTT.ClientIDPrefix,
		Username:       p.cfg.MQTT.Username,
		Password:       p.cfg.MQTT.Password,
		QoS:            p.cfg.MQTT.QoS,
		CleanSession:   p.cfg.MQTT.CleanSession,
		KeepAlive:      p.cfg.MQTT.KeepAlive.Std(),
		ConnectTimeout: p.cfg.MQTT.ConnectTimeout.Std(),
		TLSEnabled:     p.cfg.MQTT.TLSEnabled,
		TLSCAFile:      p.cfg.MQTT.TLSCAFile,
		TLSCertFile:    p.cfg.MQTT.TLSCertFile,
		TLSKeyFile:     p.cfg.MQTT.TLSKeyFile,
		TLSSkipVerify:  p.cfg.MQTT.TLSSkipVerify,
	}
	client, err := mqttclient.NewClient(mqttCfg, p.logger, func(s mqttclient.ConnectionStatus) {
		connected := s == mqttclient.StatusConnected
		if connected {
			core.BrokerConnected.Set(1)
		} else {
			core.BrokerConnected.Set(0)
		}
		p.monitor.Update("mqtt", connected, s.String())
	})
	if err != nil {
		p.state = component.StateFailed
		return err
	}
	p.mqtt = client
	p.clientID = fmt.Sprintf("%s-listener", mqttCfg.ClientIDPrefix)

	if p.cfg.Republisher.Enabled {
		rp, err := republisher.New(republisher.Deps{
			Publisher: client,
			Logger:    p.logger.With("component", "republisher"),
		})
		if err != nil {
			p.state = component.StateFailed
			return err
		}
		p.republisher = rp
	}

	p.state = component.StateInitialized
	return nil
}

// Start connects the sinks and the broker and subscribes the routes.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.state != component.StateInitialized {
		return errors.WrapFatal(
			fmt.Errorf("cannot start pipeline in state %s", p.state),
			"service.Pipeline", "Start", "lifecycle check")
	}

	if p.cfg.GraphDB.Enabled {
		store, err := neo4jstore.NewStore(ctx, neo4jstore.Config{
			URI:                  p.cfg.GraphDB.URI,
			Username:             p.cfg.GraphDB.Username,
			Password:             p.cfg.GraphDB.Password,
			Database:             p.cfg.GraphDB.Database,
			MaxRetry:             p.cfg.GraphDB.MaxRetry,
			SleepBetweenAttempts: p.cfg.GraphDB.SleepBetweenAttempts.Std(),
		}, p.logger.With("component", "graphdb"))
		if err != nil {
			p.state = component.StateFailed
			return err
		}
		p.graphStore = store

		transformer, err := uns.NewTransformer(uns.TransformerDeps{
			Store:             store,
			NodeTypes:         p.cfg.Transformer.NodeTypes,
			AttributeNodeType: p.cfg.Transformer.AttributeNodeType,
			Logger:            p.logger.With("component", "transformer"),
		})
		if err != nil {
			p.state = component.StateFailed
			return err
		}
		p.transformer = transformer
		p.monitor.Update("graphdb", true, "connected")
	}

	if p.cfg.Historian.Enabled {
		h, err := historian.NewHistorian(ctx, historian.Config{
			Hostname:             p.cfg.Historian.Hostname,
			Port:                 p.cfg.Historian.Port,
			Database:             p.cfg.Historian.Database,
			Table:                p.cfg.Historian.Table,
			Username:             p.cfg.Historian.Username,
			Password:             p.cfg.Historian.Password,
			SSLMode:              p.cfg.Historian.SSLMode,
			MaxRetry:             p.cfg.Historian.MaxRetry,
			SleepBetweenAttempts: p.cfg.Historian.SleepBetweenAttempts.Std(),
		}, p.logger.With("component", "historian"))
		if err != nil {
			p.state = component.StateFailed
			return err
		}
		p.historian = h
		p.monitor.Update("historian", true, "connected")
	}

	if err := p.mqtt.Connect(ctx); err != nil {
		p.state = component.StateFailed
		return err
	}

	for _, filter := range p.cfg.MQTT.UNSTopics {
		if err := p.mqtt.Subscribe(filter, func(topic string, payload []byte) {
			p.handleUNSMessage(ctx, topic, payload)
		}); err != nil {
			p.state = component.StateFailed
			return err
		}
	}
	if p.republisher != nil {
		for _, filter := range p.cfg.MQTT.SparkplugTopics {
			if err := p.mqtt.Subscribe(filter, func(topic string, payload []byte) {
				p.handleSparkplugMessage(ctx, topic, payload)
			}); err != nil {
				p.state = component.StateFailed
				return err
			}
		}
	}

	p.startedAt = time.Now()
	p.lastActivity.Store(p.startedAt)
	p.state = component.StateStarted
	p.logger.Info("pipeline started",
		"graphdb", p.cfg.GraphDB.Enabled,
		"historian", p.cfg.Historian.Enabled,
		"republisher", p.cfg.Republisher.Enabled)
	return nil
}

// Stop disconnects the broker and closes the sinks.
func (p *Pipeline) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if p.mqtt != nil {
		p.mqtt.Close(timeout / 2)
	}
	var firstErr error
	if p.graphStore != nil {
		if err := p.graphStore.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.historian != nil {
		if err := p.historian.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.state = component.StateStopped
	p.logger.Info("pipeline stopped")
	return firstErr
}

// handleUNSMessage routes one plain JSON namespace message to the graph and
// historian sinks. Decode failures drop the message; persistence failures
// after retry exhaustion are logged and counted but do not stop the pipeline.
func (p *Pipeline) handleUNSMessage(ctx context.Context, topic string, payload []byte) {
	core := p.registry.Core
	core.MessagesReceived.WithLabelValues("uns").Inc()
	p.lastActivity.Store(time.Now())

	var message map[string]any
	if err := json.Unmarshal(payload, &message); err != nil {
		core.DecodeFailures.WithLabelValues("json").Inc()
		p.errorCount.Add(1)
		p.logger.Error("dropping undecodable UNS message",
			"topic", topic, "payload_bytes", len(payload), "error", err)
		return
	}

	now := time.Now()
	if p.transformer != nil {
		start := time.Now()
		if err := p.transformer.Persist(ctx, topic, message, now); err != nil {
			p.recordSinkError("graphdb", topic, err)
		} else {
			core.MessagesProcessed.WithLabelValues("graphdb").Inc()
			p.processed.Add(1)
		}
		core.ProcessingDuration.WithLabelValues("graphdb").Observe(time.Since(start).Seconds())
	}
	if p.historian != nil {
		start := time.Now()
		if err := p.historian.Persist(ctx, p.clientID, topic, now, message); err != nil {
			p.recordSinkError("historian", topic, err)
		} else {
			core.MessagesProcessed.WithLabelValues("historian").Inc()
			p.processed.Add(1)
		}
		core.ProcessingDuration.WithLabelValues("historian").Observe(time.Since(start).Seconds())
	}
}

// handleSparkplugMessage routes one Sparkplug namespace message to the
// republisher. The republished JSON re-enters through the UNS subscriptions.
func (p *Pipeline) handleSparkplugMessage(ctx context.Context, topic string, payload []byte) {
	core := p.registry.Core
	core.MessagesReceived.WithLabelValues("sparkplug").Inc()
	p.lastActivity.Store(time.Now())

	start := time.Now()
	err := p.republisher.Handle(ctx, topic, payload)
	core.ProcessingDuration.WithLabelValues("republisher").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.IsInvalid(err) {
			core.DecodeFailures.WithLabelValues("sparkplug").Inc()
			p.errorCount.Add(1)
			p.logger.Error("dropping undecodable sparkplug message",
				"topic", topic, "payload_bytes", len(payload), "error", err)
			return
		}
		p.recordSinkError("republisher", topic, err)
		return
	}
	core.MessagesProcessed.WithLabelValues("republisher").Inc()
	p.processed.Add(1)
}

func (p *Pipeline) recordSinkError(sink, topic string, err error) {
	p.registry.Core.PersistenceRetries.WithLabelValues(sink).Inc()
	p.errorCount.Add(1)
	p.monitor.Update(sink, false, err.Error())
	p.logger.Error("sink write failed", "sink", sink, "topic", topic, "error", err)
}

// Meta implements component.Discoverable.
func (p *Pipeline) Meta() component.Metadata {
	return component.Metadata{
		Name:        "unsmesh-pipeline",
		Type:        "pipeline",
		Description: "UNS MQTT ingest: graph, historian and Sparkplug republish",
		Version:     Version,
	}
}

// Health implements component.Discoverable.
func (p *Pipeline) Health() component.HealthStatus {
	var uptime time.Duration
	if !p.startedAt.IsZero() {
		uptime = time.Since(p.startedAt)
	}
	return component.HealthStatus{
		Healthy:    p.state == component.StateStarted && p.monitor.Healthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(p.errorCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow implements component.Discoverable.
func (p *Pipeline) DataFlow() component.FlowMetrics {
	fm := component.FlowMetrics{}
	if last, ok := p.lastActivity.Load().(time.Time); ok {
		fm.LastActivity = last
	}
	if !p.startedAt.IsZero() {
		elapsed := time.Since(p.startedAt).Seconds()
		if elapsed > 0 {
			fm.MessagesPerSecond = float64(p.processed.Load()) / elapsed
		}
	}
	return fm
}

// State returns the current lifecycle state.
func (p *Pipeline) State() component.State {
	return p.state
}
