package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/petnestiq/habitat-gateway/internal/infrastructure/mqtt"
)

// CommandResult is delivered exactly once per dispatched command.
type CommandResult struct {
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`

	// Err is nil on success and otherwise wraps one of the package sentinels.
	Err error `json:"-"`
}

// CommandResponse is a device answer parsed from the wire.
type CommandResponse struct {
	RequestID  string
	ResultCode int
	Detail     string
}

// ParseCommandResponse extracts the request id, result code and detail.
//
// The id comes from "id", then "request_id", then the topic's
// request_id= suffix. A missing result code is treated as -1.
func ParseCommandResponse(topic string, payload []byte) (CommandResponse, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return CommandResponse{}, fmt.Errorf("%w: command response: %w", ErrDecode, err)
	}

	resp := CommandResponse{ResultCode: -1}

	for _, key := range []string{"id", "request_id"} {
		if id := scalarString(raw[key]); id != "" {
			resp.RequestID = id
			break
		}
	}
	if resp.RequestID == "" {
		resp.RequestID = mqtt.RequestID(topic)
	}

	if code, err := coerceNumber(raw["result_code"]); err == nil {
		resp.ResultCode = int(code)
	}

	for _, key := range []string{"response_detail", "result_desc"} {
		if v, ok := raw[key]; ok && v != nil {
			if s := scalarString(v); s != "" {
				resp.Detail = s
			} else if b, err := json.Marshal(v); err == nil {
				resp.Detail = string(b)
			}
			break
		}
	}

	return resp, nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

// pendingCommand is one in-flight request awaiting its response.
type pendingCommand struct {
	id       string
	issuedAt time.Time
	callback func(CommandResult)
	timer    Timer
}

// ResponseCorrelator matches command responses to pending requests.
//
// Each entry leaves the table exactly once: by a matching response, by a
// publish failure, or by its timeout. Whichever removes it invokes the
// callback; the others find nothing and do nothing.
type ResponseCorrelator struct {
	clock   Clock
	timeout time.Duration
	logger  Logger

	mu      sync.Mutex
	pending map[string]*pendingCommand
}

// NewResponseCorrelator creates an empty pending table.
func NewResponseCorrelator(timeout time.Duration, clock Clock, logger Logger) *ResponseCorrelator {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &ResponseCorrelator{
		clock:   clock,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*pendingCommand),
	}
}

// Register adds a pending entry and arms its timeout.
func (c *ResponseCorrelator) Register(id string, callback func(CommandResult)) error {
	if callback == nil {
		callback = func(CommandResult) {}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	p := &pendingCommand{
		id:       id,
		issuedAt: c.clock.Now(),
		callback: callback,
	}
	c.pending[id] = p
	p.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(id) })
	return nil
}

// take removes and returns the entry for id, stopping its timer.
func (c *ResponseCorrelator) take(id string) *pendingCommand {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

// Resolve completes the pending entry matching resp. It reports false
// for unmatched or stale responses, which are logged and discarded.
func (c *ResponseCorrelator) Resolve(resp CommandResponse) bool {
	p := c.take(resp.RequestID)
	if p == nil {
		c.logger.Warn("unmatched command response",
			"request_id", resp.RequestID,
			"result_code", resp.ResultCode,
		)
		return false
	}

	result := CommandResult{RequestID: p.id}
	if resp.ResultCode == 0 {
		result.Success = true
		result.Message = "ok"
		if resp.Detail != "" {
			result.Message = resp.Detail
		}
	} else {
		result.Message = resp.Detail
		if result.Message == "" {
			result.Message = fmt.Sprintf("result_code %d", resp.ResultCode)
		}
		result.Err = fmt.Errorf("%w: %s", ErrCommandFailed, result.Message)
	}

	c.logger.Debug("command response matched",
		"request_id", p.id,
		"success", result.Success,
		"latency", c.clock.Now().Sub(p.issuedAt),
	)
	p.callback(result)
	return true
}

// Fail completes the pending entry for id with err.
func (c *ResponseCorrelator) Fail(id string, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.callback(CommandResult{RequestID: id, Message: err.Error(), Err: err})
	return true
}

// expire fires when a timeout elapses before any response.
func (c *ResponseCorrelator) expire(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	c.logger.Warn("command timed out", "request_id", id, "timeout", c.timeout)
	p.callback(CommandResult{
		RequestID: id,
		Message:   fmt.Sprintf("no response within %v", c.timeout),
		Err:       fmt.Errorf("%w: %s", ErrCommandTimeout, id),
	})
}

// Len returns the number of pending entries.
func (c *ResponseCorrelator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
