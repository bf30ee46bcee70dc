package logger

import "go.uber.org/zap"

type Config struct {
	Development bool
	// Name labels every entry, e.g. with the binary name.
	Name string
}

// New builds a sugared logger. Production config keeps stacktraces off; the
// surrounding components log failures as events, not panics.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.DisableStacktrace = true
	}
	l, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		l = l.Named(cfg.Name)
	}
	return l.Sugar(), nil
}
