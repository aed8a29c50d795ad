package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/linchenxuan/strixlink/log"
)

// Publisher includes multiple topics.
type Publisher struct {
	lock   sync.RWMutex
	topics map[string]*Topic
}

// NewPublisher creates a publisher with the given topics, each with the same slow-subscriber threshold.
func NewPublisher(timeout time.Duration, topics ...string) *Publisher {
	p := &Publisher{topics: make(map[string]*Topic, len(topics))}
	for _, name := range topics {
		p.topics[name] = &Topic{timeout: timeout}
	}
	return p
}

// NewTopic must create a topic before you can initiate a subscription.
func (p *Publisher) NewTopic(topicName string, timeout time.Duration) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.topics == nil {
		p.topics = make(map[string]*Topic)
	}
	if _, ok := p.topics[topicName]; ok {
		return fmt.Errorf("topic %s already create", topicName)
	}
	p.topics[topicName] = &Topic{timeout: timeout}
	return nil
}

// RegisterSubscriber appends fn to the topic's subscribers.
func (p *Publisher) RegisterSubscriber(topicName string, fn Subscriber) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	topic, ok := p.topics[topicName]
	if !ok {
		return fmt.Errorf("topic %s not create", topicName)
	}

	topic.subscribers = append(topic.subscribers, fn)
	log.Debug().Str("topic", topicName).Int("num", len(topic.subscribers)).Msg("add subscribers")
	return nil
}

// Publish calls every subscriber of the topic on the calling goroutine, in
// registration order. Subscribers may register further subscribers; those
// see the next publish.
func (p *Publisher) Publish(topicName string, i any) error {
	p.lock.RLock()
	topic, ok := p.topics[topicName]
	var subs []Subscriber
	var timeout time.Duration
	if ok {
		subs = topic.subscribers
		timeout = topic.timeout
	}
	p.lock.RUnlock()

	if !ok {
		return fmt.Errorf("topic:%s not create", topicName)
	}

	for idx, sub := range subs {
		start := time.Now()
		sub(i)
		if cost := time.Since(start); timeout > 0 && cost > timeout {
			log.Warn().Str("topic", topicName).Int("subscriber", idx).Dur("cost", cost).
				Dur("timeout", timeout).Msg("slow event subscriber")
		}
	}
	return nil
}

// Subscribers returns the number of subscribers of a topic.
func (p *Publisher) Subscribers(topicName string) int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if topic, ok := p.topics[topicName]; ok {
		return len(topic.subscribers)
	}
	return 0
}
