package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-plancheck/internal/application/pipeline"
)

// EventRunFinished is the type field of published outcome events.
const EventRunFinished = "run.finished"

// RunFinishedEvent is published once per terminal run.
type RunFinishedEvent struct {
	Type string `json:"type"`
	pipeline.Outcome
}

// Publisher emits run outcomes to a topic. It implements pipeline.Notifier.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "create sync producer")
	}
	return p, nil
}

func NewPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.L()
	}
	return &Publisher{producer: producer, topic: topic, log: log.Named("kafka")}
}

// RunFinished publishes the outcome keyed by run id. Delivery failures are logged only.
func (p *Publisher) RunFinished(_ context.Context, o pipeline.Outcome) {
	payload, err := json.Marshal(RunFinishedEvent{Type: EventRunFinished, Outcome: o})
	if err != nil {
		p.log.Error("encode run event", zap.Error(err))
		return
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(o.RunID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		p.log.Error("publish run event", zap.String("run_id", string(o.RunID)), zap.Error(err))
		return
	}
	p.log.Debug("run event published",
		zap.String("run_id", string(o.RunID)), zap.Int32("partition", partition), zap.Int64("offset", offset))
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
