package proxy

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Dump writes a human readable snapshot of the proxy state.
func (p *Proxy) Dump(w io.Writer) error {
	p.mu.RLock()
	initialized := p.initialized
	stopped := p.stopped
	mode := p.mode
	p.mu.RUnlock()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "initialized:\t%t\n", initialized)
	fmt.Fprintf(tw, "stopped:\t%t\n", stopped)
	fmt.Fprintf(tw, "operation mode:\t%s\n", mode)
	owner := "none"
	if rec, ok := p.registry.DirectChannelOwner(); ok {
		owner = rec.Name
	}
	fmt.Fprintf(tw, "direct channel owner:\t%s\n", owner)
	fmt.Fprintf(tw, "wakelock:\t%s refcount=%d held=%t\n",
		p.wakelock.Name(), p.wakelock.RefCount(), p.wakelock.Held())

	stats := p.pipeline.Stats()
	fmt.Fprintf(tw, "queue:\t%d/%d events\n", p.queue.AvailableToRead(), p.queue.Capacity())
	fmt.Fprintf(tw, "pipeline:\tposted=%d immediate=%d deferred=%d written=%d dropped=%d pending=%d/%d\n",
		stats.Posted, stats.Immediate, stats.Deferred, stats.WrittenByWriter,
		stats.Dropped, stats.PendingBatches, stats.PendingEvents)

	fmt.Fprintln(tw, "\nbackends:")
	fmt.Fprintln(tw, "  index\tname\tsensors\tdirect")
	for _, rec := range p.registry.Backends() {
		fmt.Fprintf(tw, "  %d\t%s\t%d\t%t\n", rec.Index, rec.Name, len(rec.Sensors), rec.DirectChannelOwner)
	}

	fmt.Fprintln(tw, "\nsensors:")
	fmt.Fprintln(tw, "  handle\tname\ttype\tmode\twakeup\tflags")
	for _, d := range p.registry.SensorsList() {
		fmt.Fprintf(tw, "  %#08x\t%s\t%s\t%s\t%t\t%#x\n",
			d.Handle, d.Name, d.Type, d.Flags.ReportingMode(), d.IsWakeUp(), uint32(d.Flags))
	}

	if dynamic := p.registry.Dynamic().List(); len(dynamic) > 0 {
		fmt.Fprintln(tw, "\ndynamic sensors:")
		fmt.Fprintln(tw, "  handle\tname\ttype")
		for _, d := range dynamic {
			fmt.Fprintf(tw, "  %#08x\t%s\t%s\n", d.Handle, d.Name, d.Type)
		}
	}

	return tw.Flush()
}
