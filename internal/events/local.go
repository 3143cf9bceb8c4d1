package events

import (
	"context"
	"log/slog"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// Local delivers events within one process. Each token gets a single bus
// handler that fans out to its subscribers.
type Local struct {
	bus    evbus.Bus
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*localTopic
}

// NewLocal creates an in-process notifier.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{
		bus:    evbus.New(),
		logger: logger,
		topics: make(map[string]*localTopic),
	}
}

type localTopic struct {
	name   string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*localSubscription]struct{}
}

func (t *localTopic) dispatch(report models.StatusReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sub := range t.subs {
		select {
		case sub.ch <- report:
		default:
			t.logger.Warn("dropping login token event for slow subscriber",
				slog.String("topic", t.name),
				slog.String("status", string(report.Status)))
		}
	}
}

type localSubscription struct {
	owner     *Local
	topic     *localTopic
	ch        chan models.StatusReport
	closeOnce sync.Once
}

func (s *localSubscription) Events() <-chan models.StatusReport { return s.ch }

func (s *localSubscription) Close() error {
	s.closeOnce.Do(func() { s.owner.unsubscribe(s) })
	return nil
}

func (l *Local) Publish(_ context.Context, tokenID string, report models.StatusReport) error {
	l.bus.Publish(topicName(tokenID), report)
	return nil
}

func (l *Local) Subscribe(_ context.Context, tokenID string) (Subscription, error) {
	name := topicName(tokenID)

	l.mu.Lock()
	defer l.mu.Unlock()

	topic, ok := l.topics[name]
	if !ok {
		topic = &localTopic{
			name:   name,
			logger: l.logger,
			subs:   make(map[*localSubscription]struct{}),
		}
		if err := l.bus.Subscribe(name, topic.dispatch); err != nil {
			return nil, err
		}
		l.topics[name] = topic
	}

	sub := &localSubscription{
		owner: l,
		topic: topic,
		ch:    make(chan models.StatusReport, subscriberBuffer),
	}
	topic.mu.Lock()
	topic.subs[sub] = struct{}{}
	topic.mu.Unlock()
	return sub, nil
}

// unsubscribe never holds a topic lock while calling into the bus, since
// the bus holds its own lock while dispatching.
func (l *Local) unsubscribe(sub *localSubscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	topic := sub.topic
	topic.mu.Lock()
	delete(topic.subs, sub)
	empty := len(topic.subs) == 0
	topic.mu.Unlock()

	if empty && l.topics[topic.name] == topic {
		delete(l.topics, topic.name)
		_ = l.bus.Unsubscribe(topic.name, topic.dispatch)
	}
}

func (l *Local) Close() error { return nil }

// topicCount is the number of tokens with live subscribers.
func (l *Local) topicCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.topics)
}
