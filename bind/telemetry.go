package bind

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/aep/firebind/bind")
}

var log = slog.New(tint.NewHandler(os.Stderr, nil))
