// Package autoload loads .env files on import.
package autoload

import (
	"context"
	"os"

	"dosensor-service/internal/infra"
	"dosensor-service/internal/pkg/dotenv"
)

func init() {
	if err := dotenv.Load(); err != nil {
		infra.NewLogger(os.Stderr, "autoload").Warnf(context.Background(), "dotenv autoload: %v", err)
	}
}
