package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragkb/internal/logging"
)

// Connect dials NATS with reconnects enabled and connection events logged.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()

	nc, err := nats.Connect(url,
		nats.Name("ragkb"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}
