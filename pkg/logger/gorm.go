package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

var gormLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
}

// PolicyDBLogger 将策略库的 SQL 日志写入 zap，记录不存在不视为错误
type PolicyDBLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

// NewGormLogger 未知级别按 warn 处理
func NewGormLogger(level string) gormlogger.Interface {
	lv, ok := gormLevels[level]
	if !ok {
		lv = gormlogger.Warn
	}
	return &PolicyDBLogger{level: lv, slow: slowQueryThreshold}
}

func (l *PolicyDBLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *PolicyDBLogger) Info(_ context.Context, msg string, data ...any) {
	l.log(gormlogger.Info, msg, data)
}

func (l *PolicyDBLogger) Warn(_ context.Context, msg string, data ...any) {
	l.log(gormlogger.Warn, msg, data)
}

func (l *PolicyDBLogger) Error(_ context.Context, msg string, data ...any) {
	l.log(gormlogger.Error, msg, data)
}

func (l *PolicyDBLogger) log(level gormlogger.LogLevel, msg string, data []any) {
	if l.level < level {
		return
	}
	text := fmt.Sprintf(msg, data...)
	switch level {
	case gormlogger.Error:
		Error(text, zap.String("component", "policy-db"))
	case gormlogger.Warn:
		Warn(text, zap.String("component", "policy-db"))
	default:
		Info(text, zap.String("component", "policy-db"))
	}
}

// Trace 失败与慢查询分别按 error/warn 记录，其余仅在 info 级别以 debug 输出
func (l *PolicyDBLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)

	switch {
	case failed && l.level >= gormlogger.Error:
		sql, rows := fc()
		Error("policy db query failed", zap.Error(err), zap.String("sql", sql),
			zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, _ := fc()
		Warn("policy db slow query", zap.String("sql", sql), zap.Duration("elapsed", elapsed))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		Debug("policy db query", zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}
