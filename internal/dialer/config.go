package dialer

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/hexrelay/internal/metrics"
)

type Config struct {
	// DialTimeout of zero leaves the connect timeout to the OS.
	DialTimeout time.Duration
	KeepAlive   net.KeepAliveConfig

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
