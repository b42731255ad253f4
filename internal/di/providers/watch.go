package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/roadwatch/internal/config"
	"github.com/listenupapp/roadwatch/internal/logger"
	"github.com/listenupapp/roadwatch/internal/moves"
	"github.com/listenupapp/roadwatch/internal/sink"
	"github.com/listenupapp/roadwatch/internal/watcher"
)

// ProvidePrinter provides the event printer.
func ProvidePrinter(i do.Injector) (*sink.Printer, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	out := do.MustInvoke[Output](i)

	return sink.NewPrinter(log.Logger, out, cfg.Output.Format, cfg.Output.Events)
}

// WatchGroupHandle wraps the watch group with shutdown capability.
type WatchGroupHandle struct {
	*watcher.Group
}

// Shutdown implements do.Shutdownable.
func (h *WatchGroupHandle) Shutdown() error {
	h.Group.Stop()
	return nil
}

// ProvideWatchGroup builds one session per configured root, wires the printer
// and starts the group.
func ProvideWatchGroup(i do.Injector) (*WatchGroupHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	printer := do.MustInvoke[*sink.Printer](i)

	group := watcher.NewGroup(log.Logger)
	group.OnAny(printer.Handle)

	for _, root := range cfg.Watch.Roots {
		opts := root.Options
		if cfg.Watch.DetectMoves {
			opts.Transform = moves.Correlate
		}
		if _, err := group.Watch(root.Path, opts); err != nil {
			return nil, err
		}
		log.Info("Watching root", "path", root.Path, "hash", opts.UseHash)
	}

	if err := group.Start(); err != nil {
		group.Stop()
		return nil, err
	}

	return &WatchGroupHandle{Group: group}, nil
}
