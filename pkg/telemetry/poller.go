package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/shopspring/decimal"

	"github.com/slotracer/slotman/log"
	"github.com/slotracer/slotman/pkg/model"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	requestTimeout      = 2 * time.Second
)

// carReport is the per-car payload of the coin-box status endpoint.
type carReport struct {
	ID                int     `json:"id"`
	Throttle          float64 `json:"throttle"`
	ButtonPressed     bool    `json:"buttonPressed"`
	Active            bool    `json:"active"`
	Blocked           bool    `json:"blocked"`
	ManuallyBlocked   bool    `json:"manuallyBlocked"`
	ManuallyUnblocked bool    `json:"manuallyUnblocked"`
	CoinCount         int     `json:"coinCount"`
	CoinValue         string  `json:"coinValue"`
}

// Poller implements Client against the coin-box HTTP API. It polls the
// status endpoint on a fixed interval, feeds the credit ledger and
// publishes per-car snapshots on the Cars stream.
type Poller struct {
	baseURL  string
	interval time.Duration
	client   *http.Client
	ledger   *CreditLedger
	l        *log.Logger

	carsCh chan []model.CarTelemetry
}

type PollerOption func(*Poller)

func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

func WithHTTPClient(client *http.Client) PollerOption {
	return func(p *Poller) {
		p.client = client
	}
}

func WithPollerLogger(l *log.Logger) PollerOption {
	return func(p *Poller) {
		p.l = l
	}
}

func NewPoller(baseURL string, opts ...PollerOption) *Poller {
	ret := &Poller{
		baseURL:  baseURL,
		interval: defaultPollInterval,
		client:   &http.Client{Timeout: requestTimeout},
		ledger:   NewCreditLedger(),
		l:        log.Default().Named("coinbox"),
		carsCh:   make(chan []model.CarTelemetry, 4),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (p *Poller) Cars() <-chan []model.CarTelemetry { return p.carsCh }

func (p *Poller) Credits(carID int) int { return p.ledger.Credits(carID) }

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(p.carsCh)
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.l.Warn("poll failed", log.ErrorField(err))
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/api/cars", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var reports []carReport
	if err := oj.Unmarshal(data, &reports); err != nil {
		return fmt.Errorf("decoding car reports: %w", err)
	}
	p.publish(reports)
	return nil
}

func (p *Poller) publish(reports []carReport) {
	cars := make([]model.CarTelemetry, 0, len(reports))
	for i := range reports {
		r := &reports[i]
		value, err := decimal.NewFromString(r.CoinValue)
		if err != nil {
			value = decimal.Zero
		}
		p.ledger.Update(r.ID, r.CoinCount, value)
		cars = append(cars, model.CarTelemetry{
			CarID:             r.ID,
			Throttle:          r.Throttle,
			ButtonPressed:     r.ButtonPressed,
			Active:            r.Active,
			Blocked:           r.Blocked,
			ManuallyBlocked:   r.ManuallyBlocked,
			ManuallyUnblocked: r.ManuallyUnblocked,
			CoinValue:         value,
		})
	}
	select {
	case p.carsCh <- cars:
	default:
	}
}

func (p *Poller) BlockCar(ctx context.Context, carID int, blocked bool) error {
	body := fmt.Sprintf(`{"blocked":%t}`, blocked)
	return p.post(ctx, fmt.Sprintf("/api/cars/%d/block", carID), []byte(body))
}

func (p *Poller) ResetCarToNormal(ctx context.Context, carID int) error {
	return p.post(ctx, fmt.Sprintf("/api/cars/%d/reset", carID), nil)
}

// MarkCoinsAsConsumed debits the local ledger and tells the device to
// clear the coins so they are not counted again after a restart.
func (p *Poller) MarkCoinsAsConsumed(ctx context.Context, carIDs []int) error {
	p.ledger.Consume(carIDs)
	body, err := oj.Marshal(map[string][]int{"carIds": carIDs})
	if err != nil {
		return err
	}
	return p.post(ctx, "/api/coins/consume", body)
}

func (p *Poller) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return nil
}
