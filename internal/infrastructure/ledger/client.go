package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
)

// Result code returned by the ledger when the sequence number of a
// transaction is stale. Rebuilding against a fresh account fixes it.
const codeBadSequence = "tx_bad_seq"

type submitRequest struct {
	Tx string `json:"tx"`
}

type submitResponse struct {
	Hash   string `json:"hash"`
	Ledger uint64 `json:"ledger"`
}

type feeStatsResponse struct {
	LastLedgerBaseFee uint64 `json:"last_ledger_base_fee"`
}

type transactionResponse struct {
	Hash       string `json:"hash"`
	Successful bool   `json:"successful"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type restClient struct {
	client *resty.Client
}

// NewClient returns a ledger client talking to the REST api at baseURL.
func NewClient(baseURL string, timeout time.Duration) (ports.LedgerClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid ledger url: %s", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("invalid ledger timeout")
	}

	cl := resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	return newClient(cl), nil
}

func newClient(cl *resty.Client) *restClient {
	cl.SetHeader("Accept", "application/json")
	return &restClient{cl}
}

func (c *restClient) request(ctx context.Context) *resty.Request {
	return c.client.R().SetContext(ctx).ForceContentType("application/json")
}

func (c *restClient) LoadAccount(
	ctx context.Context, publicKey string,
) (*ports.Account, error) {
	var account ports.Account
	var apiErr errorResponse
	resp, err := c.request(ctx).
		SetResult(&account).
		SetError(&apiErr).
		Get(fmt.Sprintf("/accounts/%s", url.PathEscape(publicKey)))
	if err := classify(resp, err, &apiErr); err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if len(account.PublicKey) <= 0 {
		account.PublicKey = publicKey
	}
	return &account, nil
}

func (c *restClient) SubmitPayment(
	ctx context.Context, signedTx []byte,
) (*ports.SubmitResult, error) {
	var result submitResponse
	var apiErr errorResponse
	resp, err := c.request(ctx).
		SetBody(submitRequest{base64.StdEncoding.EncodeToString(signedTx)}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/transactions")
	if err := classify(resp, err, &apiErr); err != nil {
		return nil, fmt.Errorf("failed to submit payment: %w", err)
	}
	return &ports.SubmitResult{Hash: result.Hash, LedgerId: result.Ledger}, nil
}

func (c *restClient) EstimateFee(ctx context.Context) (uint64, error) {
	var stats feeStatsResponse
	var apiErr errorResponse
	resp, err := c.request(ctx).
		SetResult(&stats).
		SetError(&apiErr).
		Get("/fee_stats")
	if err := classify(resp, err, &apiErr); err != nil {
		return 0, fmt.Errorf("failed to estimate fee: %w", err)
	}
	return stats.LastLedgerBaseFee, nil
}

func (c *restClient) GetTransaction(ctx context.Context, hash string) (bool, error) {
	var tx transactionResponse
	var apiErr errorResponse
	resp, err := c.request(ctx).
		SetResult(&tx).
		SetError(&apiErr).
		Get(fmt.Sprintf("/transactions/%s", url.PathEscape(hash)))
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if err := classify(resp, err, &apiErr); err != nil {
		return false, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx.Successful, nil
}

// classify maps a response to the ledger error taxonomy. Network failures,
// throttling and server errors may succeed later, anything else the ledger
// refused is final.
func classify(resp *resty.Response, err error, apiErr *errorResponse) error {
	if err != nil {
		return domain.LedgerTransientError(err)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	reason := fmt.Errorf("status %d", status)
	if len(apiErr.Error) > 0 || len(apiErr.Code) > 0 {
		reason = fmt.Errorf("status %d: %s %s", status, apiErr.Code, apiErr.Error)
	}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		return domain.LedgerTransientError(reason)
	case apiErr.Code == codeBadSequence:
		return domain.LedgerTransientError(reason)
	default:
		return domain.LedgerPermanentError(reason)
	}
}
