package proxy

import (
	"io"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/die-net/hexrelay/internal/metrics"
)

type Config struct {
	// Verbose enables a hex dump of every forwarded chunk.
	Verbose bool

	// Color enables ANSI color on dump direction labels.
	Color bool

	// Output receives hex dumps. Defaults to os.Stdout.
	Output io.Writer

	KeepAlive net.KeepAliveConfig

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) output() io.Writer {
	if c.Output == nil {
		return os.Stdout
	}
	return c.Output
}
