package bus

import (
	"github.com/zeusync/ecscore/internal/core/observability/log"
)

// LogObserver writes failed and unheard deliveries to a logger.
type LogObserver struct {
	logger log.Log
}

func NewLogObserver(logger log.Log) *LogObserver {
	return &LogObserver{logger: logger.Named("bus")}
}

func (o *LogObserver) OnPublish(Delivery) {}

func (o *LogObserver) OnDelivered(d Delivery, handlers int, err error, durationMicros int64) {
	switch {
	case err != nil:
		o.logger.Warn("event handlers failed",
			log.Hash("event", uint32(d.Event.Type)),
			log.Stringer("target", d.Target),
			log.Int("handlers", handlers),
			log.Error(err),
		)
	case handlers == 0:
		o.logger.Debug("event had no subscribers",
			log.Hash("event", uint32(d.Event.Type)),
			log.Stringer("target", d.Target),
		)
	default:
		o.logger.Debug("event delivered",
			log.Hash("event", uint32(d.Event.Type)),
			log.Int("handlers", handlers),
			log.Int("micros", int(durationMicros)),
		)
	}
}
