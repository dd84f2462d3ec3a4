package kafka

import (
	"context"
	"testing"

	"github.com/darpa-sail-on/docsearch/pkg/config"
)

type reloaded struct {
	Project  string `json:"project"`
	Checksum string `json:"checksum"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[reloaded]([]byte(`{"project":"sail-on","checksum":"abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Project != "sail-on" || got.Checksum != "abc" {
		t.Errorf("decoded %+v", got)
	}
	if _, err := DecodeJSON[reloaded]([]byte("not json")); err == nil {
		t.Error("expected error for malformed value")
	}
}

func TestPublishBatchEmptyIsNoop(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "docsearch.test")
	defer p.Close()
	if err := p.PublishBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func TestPublishRejectsUnencodableValue(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "docsearch.test")
	defer p.Close()
	err := p.Publish(context.Background(), Event{Key: "k", Value: make(chan int)})
	if err == nil {
		t.Fatal("expected marshal error")
	}
}

var _ Publisher = (*Producer)(nil)
