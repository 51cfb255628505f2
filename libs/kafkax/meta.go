package kafkax

import (
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/segmentio/kafka-go"
)

const (
	headerEventID     = "event_id"
	headerEventType   = "event_type"
	headerContentType = "content_type"
	// headerRedelivery counts how often a message was requeued by Nack.
	headerRedelivery = "x-redelivery"
)

// EventMeta is the canonical metadata carried on Kafka messages across services.
type EventMeta struct {
	EventID   string
	EventType string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	eventID := HeaderValue(msg.Headers, headerEventID)
	eventType := HeaderValue(msg.Headers, headerEventType)
	if eventID == "" {
		eventID = string(msg.Key)
	}
	return EventMeta{EventID: eventID, EventType: eventType}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func toMessage(queue string, msg broker.Publishing) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+3)
	headers = append(headers,
		kafka.Header{Key: headerEventID, Value: []byte(msg.MessageID)},
		kafka.Header{Key: headerEventType, Value: []byte(msg.Type)},
		kafka.Header{Key: headerContentType, Value: []byte(msg.ContentType)},
	)
	for k, v := range msg.Headers {
		switch k {
		case headerEventID, headerEventType, headerContentType:
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Topic:   queue,
		Key:     []byte(msg.MessageID),
		Value:   msg.Body,
		Headers: headers,
	}
}

func headerMap(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		switch h.Key {
		case headerEventID, headerEventType, headerContentType:
			continue
		}
		out[h.Key] = string(h.Value)
	}
	return out
}

// requeued copies msg for republishing with an incremented redelivery counter.
func requeued(msg kafka.Message) kafka.Message {
	n, _ := strconv.Atoi(HeaderValue(msg.Headers, headerRedelivery))
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	for _, h := range msg.Headers {
		if h.Key != headerRedelivery {
			headers = append(headers, h)
		}
	}
	headers = append(headers, kafka.Header{Key: headerRedelivery, Value: []byte(strconv.Itoa(n + 1))})
	return kafka.Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Headers: headers}
}
