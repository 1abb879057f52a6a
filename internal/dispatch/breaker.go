package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/metrics"
	"smsrelay/internal/models"
)

// BreakerState is the state of one endpoint's circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitOpenError is returned for a delivery skipped because the endpoint's
// circuit is open. It is classified as retryable.
type CircuitOpenError struct {
	Endpoint string
	State    BreakerState
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit for endpoint '%s' is %s", e.Endpoint, e.State)
}

type circuit struct {
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// breakers tracks one circuit per endpoint. After threshold consecutive
// retryable failures the endpoint is skipped until cooldown has passed; then
// a single probe request decides whether it closes again.
type breakers struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *logrus.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

func newBreakers(threshold int, cooldown time.Duration, logger *logrus.Logger) *breakers {
	return &breakers{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger,
		circuits:  make(map[string]*circuit),
	}
}

func (b *breakers) enabled() bool {
	return b != nil && b.threshold > 0
}

// circuitKey changes when the endpoint is pointed somewhere else, so an
// edited URL starts with a closed circuit.
func circuitKey(ep models.Endpoint) string {
	return ep.ID + "|" + ep.URL
}

// allow reports whether a request to ep may be sent now.
func (b *breakers) allow(ep models.Endpoint) error {
	if !b.enabled() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[circuitKey(ep)]
	if !ok {
		return nil
	}

	switch c.state {
	case BreakerOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return &CircuitOpenError{Endpoint: ep.Name, State: c.state}
		}
		c.state = BreakerHalfOpen
		c.probing = true
		b.logger.WithField("endpoint", ep.Name).Info("Endpoint circuit half-open, probing")
		return nil
	case BreakerHalfOpen:
		if c.probing {
			return &CircuitOpenError{Endpoint: ep.Name, State: c.state}
		}
		c.probing = true
		return nil
	default:
		return nil
	}
}

// record feeds a delivery outcome back. Client errors prove the endpoint is
// reachable and count as success here.
func (b *breakers) record(ep models.Endpoint, outcome models.DeliveryOutcome) {
	if !b.enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	key := circuitKey(ep)
	c, ok := b.circuits[key]
	if !ok {
		if outcome != models.OutcomeRetryableError {
			return
		}
		c = &circuit{}
		b.circuits[key] = c
	}

	if outcome != models.OutcomeRetryableError {
		if c.state != BreakerClosed {
			b.logger.WithField("endpoint", ep.Name).Info("Endpoint circuit closed after successful probe")
		}
		delete(b.circuits, key)
		b.gauge(ep, BreakerClosed)
		return
	}

	c.failures++
	c.probing = false
	if c.state == BreakerHalfOpen || (c.state == BreakerClosed && c.failures >= b.threshold) {
		c.state = BreakerOpen
		c.openedAt = b.now()
		b.logger.WithFields(logrus.Fields{
			"endpoint": ep.Name,
			"failures": c.failures,
			"cooldown": b.cooldown,
		}).Warn("Endpoint circuit opened")
		b.gauge(ep, BreakerOpen)
	}
}

// state reports the circuit state for ep.
func (b *breakers) state(ep models.Endpoint) BreakerState {
	if !b.enabled() {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[circuitKey(ep)]; ok {
		return c.state
	}
	return BreakerClosed
}

func (b *breakers) gauge(ep models.Endpoint, state BreakerState) {
	value := 0.0
	if state == BreakerOpen {
		value = 1
	}
	metrics.SetGauge("endpoint_circuit_open", value, map[string]string{"endpoint": ep.ID}, "Endpoints whose circuit is open")
}
