package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with per-level sampling. Each level listed in
// cfg.Levels gets its own sampler; unlisted levels and Error and above are
// never sampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Levels) == 0 {
		return core
	}

	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	cores = append(cores, &levelFilterCore{
		Core: core,
		allow: func(l zapcore.Level) bool {
			_, sampled := cfg.Levels[l]
			return !sampled || l >= zapcore.ErrorLevel
		},
	})

	for level, rate := range cfg.Levels {
		if level >= zapcore.ErrorLevel {
			continue
		}
		lvl := level
		filtered := &levelFilterCore{
			Core:  core,
			allow: func(l zapcore.Level) bool { return l == lvl },
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(
			filtered, cfg.Tick, rate.Initial, rate.Thereafter,
		))
	}

	return zapcore.NewTee(cores...)
}

// levelFilterCore passes only entries whose level satisfies allow.
type levelFilterCore struct {
	zapcore.Core
	allow func(zapcore.Level) bool
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.allow(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), allow: c.allow}
}
