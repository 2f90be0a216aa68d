package observability

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var errCollectorKind = errors.New("name already registered as a different metric kind")

// Binding maps one event type onto a Prometheus metric. Bindings that name
// the same metric share one collector, so a gauge can be raised by one
// event and lowered by another. Series are labelled by the event's "topic"
// attribute.
type Binding struct {
	Event EventType
	Name  string
	Help  string
	Gauge bool
	// Delta is added to a gauge per event; counters always add one.
	Delta float64
}

// PrometheusObserver turns bound events into Prometheus counter and gauge
// updates. Events without a binding are ignored.
type PrometheusObserver struct {
	counters map[EventType][]*prometheus.CounterVec
	gauges   map[EventType][]gaugeUpdate
}

type gaugeUpdate struct {
	vec   *prometheus.GaugeVec
	delta float64
}

// NewPrometheusObserver registers one collector per distinct binding name
// on reg, prefixed with namespace. A collector already registered under the
// same descriptor is reused.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string, bindings ...Binding) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		counters: make(map[EventType][]*prometheus.CounterVec),
		gauges:   make(map[EventType][]gaugeUpdate),
	}

	counters := make(map[string]*prometheus.CounterVec)
	gauges := make(map[string]*prometheus.GaugeVec)

	for _, b := range bindings {
		if b.Gauge {
			vec, ok := gauges[b.Name]
			if !ok {
				created := prometheus.NewGaugeVec(prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      b.Name,
					Help:      b.Help,
				}, []string{"topic"})
				registered, err := register(reg, created)
				if err != nil {
					return nil, fmt.Errorf("register gauge %s: %w", b.Name, err)
				}
				if vec, ok = registered.(*prometheus.GaugeVec); !ok {
					return nil, fmt.Errorf("register gauge %s: %w", b.Name, errCollectorKind)
				}
				gauges[b.Name] = vec
			}
			o.gauges[b.Event] = append(o.gauges[b.Event], gaugeUpdate{vec: vec, delta: b.Delta})
			continue
		}

		vec, ok := counters[b.Name]
		if !ok {
			created := prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      b.Name,
				Help:      b.Help,
			}, []string{"topic"})
			registered, err := register(reg, created)
			if err != nil {
				return nil, fmt.Errorf("register counter %s: %w", b.Name, err)
			}
			if vec, ok = registered.(*prometheus.CounterVec); !ok {
				return nil, fmt.Errorf("register counter %s: %w", b.Name, errCollectorKind)
			}
			counters[b.Name] = vec
		}
		o.counters[b.Event] = append(o.counters[b.Event], vec)
	}

	return o, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, err
	}
	return c, nil
}

func (o *PrometheusObserver) OnEvent(ctx context.Context, event Event) {
	topic, _ := event.Data["topic"].(string)

	for _, vec := range o.counters[event.Type] {
		vec.WithLabelValues(topic).Inc()
	}
	for _, g := range o.gauges[event.Type] {
		g.vec.WithLabelValues(topic).Add(g.delta)
	}
}
