// Package textfile renders the metric registry to a node_exporter
// textfile-collector file. The file is rewritten after every metric
// lifecycle transition and replaced atomically so a concurrent scrape of
// the directory never sees a partial write.
package textfile

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/Oorpe/prometheus-webhook-collector/engine"
	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// Writer renders a gatherer to a textfile on demand.
type Writer struct {
	dir      string
	name     string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	mu       sync.Mutex // serializes file writes
}

// NewWriter creates a textfile writer. The directory must exist and be
// writable; that is checked on the first write, not here, so startup does
// not depend on the collector host's filesystem layout.
func NewWriter(dir, name string, gatherer prometheus.Gatherer, logger *slog.Logger) *Writer {
	if name == "" {
		name = "webhook_metrics.prom"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		dir:      dir,
		name:     name,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Path returns the target file path.
func (w *Writer) Path() string {
	return filepath.Join(w.dir, w.name)
}

// Listener returns an engine listener that rewrites the file on every
// lifecycle event. Write failures are logged, never propagated into
// request handling.
func (w *Writer) Listener() engine.Listener {
	return func(event engine.Event) {
		if err := w.Write(); err != nil {
			w.logger.Error("textfile write failed",
				"path", w.Path(), "trigger", event.Type, "error", err)
		}
	}
}

// Write gathers the registry and atomically replaces the textfile.
func (w *Writer) Write() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	families, err := w.gatherer.Gather()
	if err != nil {
		return errors.WrapTransient(err, "Writer", "Write", "gather metrics")
	}

	tmp, err := os.CreateTemp(w.dir, w.name+".*")
	if err != nil {
		return errors.WrapTransient(err, "Writer", "Write", "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, family); err != nil {
			_ = tmp.Close()
			return errors.WrapTransient(err, "Writer", "Write", "encode metrics")
		}
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "Writer", "Write", "close temp file")
	}

	if err := os.Rename(tmp.Name(), w.Path()); err != nil {
		return errors.WrapTransient(err, "Writer", "Write", "rename into place")
	}
	return nil
}
