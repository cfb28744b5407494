package natsbroker

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// Subjects published by the controller.
const (
	SubjectRunStarted  = "converge.run.started"
	SubjectRunFinished = "converge.run.finished"
	SubjectDrift       = "converge.drift.detected"
)

type Broker struct {
	conn *nats.Conn
}

func New(url string) (*Broker, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Broker{conn: nc}, nil
}

func (b *Broker) Publish(subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

func (b *Broker) Subscribe(subject string, handler func(data []byte)) error {
	_, err := b.conn.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	return err
}

func (b *Broker) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
