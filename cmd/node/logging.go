package node

import (
	"fmt"
	"os"

	"github.com/blendle/zapdriver"
	ipfslog "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the node logger. The json format writes Stackdriver style entries for log collectors.
func newLogger(format, level string) (*zap.Logger, error) {
	lvl, err := ipfslog.LevelFromString(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	switch format {
	case "text", "":
		ipfslog.SetAllLoggers(lvl)
		return ipfslog.Logger("wormhole-portal").Desugar(), nil
	case "json":
		return zap.New(jsonCore(zapcore.Lock(os.Stderr), zapcore.Level(lvl))).Named("wormhole-portal"), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func jsonCore(w zapcore.WriteSyncer, lvl zapcore.Level) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(zapdriver.NewProductionEncoderConfig()), w, lvl)
}
