package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/RaghavMadan07/Agri/internal/config"
)

// Connect opens the management connection used for stream provisioning and
// readiness checks. Callers close the returned connection.
func Connect(url string, cfg config.QueueConfig, logger watermill.LoggerAdapter) (*natsgo.Conn, jetstream.JetStream, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	nc, err := natsgo.Connect(url, natsOptions(cfg, logger)...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}
