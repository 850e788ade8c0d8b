package eos

import "go.uber.org/zap"

func orNop(logger *zap.Logger) *zap.Logger {

	if logger == nil {
		return zap.NewNop()
	}

	return logger
}
