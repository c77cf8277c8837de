// Package zaplog adapts a zap logger to the LogService interface.
package zaplog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AnishMulay/chfs/internal/log_service"
)

// Config selects the level, encoding and destination of the logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

type ZapLogService struct {
	logger *zap.Logger
	nodeID string
}

// New builds a zap logger from cfg. Unknown levels fall back to info.
func New(cfg Config, nodeID string) (*ZapLogService, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.OutputPath != "" {
		zcfg.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zcfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return Wrap(logger, nodeID), nil
}

// Wrap uses an existing logger.
func Wrap(logger *zap.Logger, nodeID string) *ZapLogService {
	if nodeID != "" {
		logger = logger.With(zap.String("node", nodeID))
	}
	return &ZapLogService{logger: logger, nodeID: nodeID}
}

// NewNop returns a service that drops everything.
func NewNop() *ZapLogService {
	return &ZapLogService{logger: zap.NewNop()}
}

func (z *ZapLogService) Logger() *zap.Logger {
	return z.logger
}

func (z *ZapLogService) Sync() error {
	return z.logger.Sync()
}

func fields(event log_service.LogEvent) []zap.Field {
	out := make([]zap.Field, 0, len(event.Metadata)+1)
	if !event.Timestamp.IsZero() {
		out = append(out, zap.Time("eventTime", event.Timestamp))
	}
	for k, v := range event.Metadata {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (z *ZapLogService) Debug(event log_service.LogEvent) {
	z.logger.Debug(event.Message, fields(event)...)
}

func (z *ZapLogService) Info(event log_service.LogEvent) {
	z.logger.Info(event.Message, fields(event)...)
}

func (z *ZapLogService) Warn(event log_service.LogEvent) {
	z.logger.Warn(event.Message, fields(event)...)
}

func (z *ZapLogService) Error(event log_service.LogEvent) {
	z.logger.Error(event.Message, fields(event)...)
}

var _ log_service.LogService = (*ZapLogService)(nil)
