package proxy

import (
	"github.com/c360/sensorhub/sensors"
)

// SetOperationMode switches every backend in registration order and returns
// the first failure. Backends switched before the failure are not rolled
// back, so after an error the mode of each backend is indeterminate.
func (p *Proxy) SetOperationMode(mode sensors.OperationMode) error {
	if err := p.requireInitialized("SetOperationMode"); err != nil {
		return err
	}

	for _, rec := range p.registry.Backends() {
		err := p.record(rec, "set_operation_mode", rec.Adapter.SetOperationMode(mode))
		if err != nil {
			p.logger.Warn("Backend rejected operation mode, backends left in mixed modes",
				"backend", rec.Name,
				"mode", mode.String(),
				"error", err)
			return err
		}
	}

	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()

	p.logger.Info("Operation mode changed", "mode", mode.String())
	return nil
}

// OperationMode returns the last mode every backend accepted.
func (p *Proxy) OperationMode() sensors.OperationMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}
