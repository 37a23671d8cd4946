package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// ensureInstanceID: POD_NAME в k8s, иначе hostname + короткий uuid.
func ensureInstanceID(v string) string {
	if v != "" {
		return v
	}
	if pod := os.Getenv("POD_NAME"); pod != "" {
		return pod
	}
	hn, err := os.Hostname()
	if err != nil || hn == "" {
		hn = "market-chat"
	}
	return hn + "-" + uuid.NewString()[:8]
}

func commonAttrs(cfg Config) []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	attrs = append(attrs,
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("instance_id", cfg.InstanceID),
	)
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	return append(attrs, slog.Time("started_at", time.Now().UTC()))
}
