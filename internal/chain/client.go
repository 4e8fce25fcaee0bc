package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/RossBrod/CareCred/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 20 // requests per second
)

// JSON-RPC error codes the node returns for payload rejections. Anything
// else is treated as transient.
const (
	codeInvalidPayload = -32602
	codeDuplicate      = -32040
	codeNotFound       = -32041
)

// ClientConfig configures the JSON-RPC ledger client.
type ClientConfig struct {
	Endpoint  string
	Timeout   time.Duration
	RateLimit int
}

// Client is a JSON-RPC client for a ledger node. It implements Ledger.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	log      *logger.Logger
	reqID    atomic.Uint64
}

var _ Ledger = (*Client)(nil)

// NewClient creates a ledger client for the given node endpoint.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("chain-client")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(limit), limit),
		log:      log,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      uint64 `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

// call performs a single JSON-RPC round trip and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: method, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &Error{
			Op:        method,
			Code:      resp.StatusCode,
			Message:   fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode),
			Transient: resp.StatusCode >= 500,
		}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &Error{Op: method, Message: "malformed response: " + err.Error(), Transient: true}
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == codeNotFound {
			return ErrNotFound
		}
		return &Error{
			Op:        method,
			Code:      rpcResp.Error.Code,
			Message:   rpcResp.Error.Message,
			Transient: rpcResp.Error.Code != codeInvalidPayload && rpcResp.Error.Code != codeDuplicate,
		}
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return &Error{Op: method, Message: "decode result: " + err.Error(), Transient: true}
		}
	}
	return nil
}

func (c *Client) Submit(ctx context.Context, rec Record) (Receipt, error) {
	var receipt Receipt
	if err := c.call(ctx, "ledger_submitRecord", []any{rec}, &receipt); err != nil {
		return Receipt{}, err
	}
	c.log.WithField("tx_id", receipt.TxID).Debug("record submitted")
	return receipt, nil
}

func (c *Client) Status(ctx context.Context, txID string) (TxStatus, error) {
	var status TxStatus
	if err := c.call(ctx, "ledger_getTransactionStatus", []any{txID}, &status); err != nil {
		return TxStatus{}, err
	}
	return status, nil
}

func (c *Client) Payload(ctx context.Context, txID string) (Record, error) {
	var rec Record
	if err := c.call(ctx, "ledger_getRecord", []any{txID}, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (c *Client) FindBySessionHash(ctx context.Context, sessionHash string) (Receipt, error) {
	var receipt Receipt
	if err := c.call(ctx, "ledger_findBySessionHash", []any{sessionHash}, &receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (c *Client) Health(ctx context.Context) error {
	var synced bool
	if err := c.call(ctx, "ledger_health", []any{}, &synced); err != nil {
		return err
	}
	if !synced {
		return &Error{Op: "ledger_health", Message: "node not synced", Transient: true}
	}
	return nil
}
