package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// NodeRPC defines the interface for communicating with the coin node.
type NodeRPC interface {
	GetBlockTemplate(ctx context.Context) (*BlockTemplate, error)
	SubmitBlock(ctx context.Context, blockHex string) (string, error)
	GetMiningInfo(ctx context.Context) (*MiningInfo, error)
}

// RPCClient implements NodeRPC using JSON-RPC over HTTP.
type RPCClient struct {
	url      string
	user     string
	password string
	client   *http.Client
	idSeq    atomic.Int64
}

// NewRPCClient creates a new node JSON-RPC client.
func NewRPCClient(url, user, password string) *RPCClient {
	return &RPCClient{
		url:      url,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// call makes a JSON-RPC call and returns the raw result.
func (c *RPCClient) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	id := c.idSeq.Add(1)

	if params == nil {
		params = []interface{}{}
	}
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.password)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("RPC request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w (body: %s)", err, string(respBody))
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// GetBlockTemplate returns a new block template from the node. The node's
// default template rules already include segwit, so no request object is sent.
func (c *RPCClient) GetBlockTemplate(ctx context.Context) (*BlockTemplate, error) {
	result, err := c.call(ctx, "getblocktemplate")
	if err != nil {
		return nil, fmt.Errorf("getblocktemplate: %w", err)
	}

	var tmpl BlockTemplate
	if err := json.Unmarshal(result, &tmpl); err != nil {
		return nil, fmt.Errorf("unmarshal block template: %w", err)
	}

	return &tmpl, nil
}

// SubmitBlock submits a mined block to the network. The returned string is the
// node's verdict: empty for accepted (JSON null), otherwise the reject or
// inconclusive reason.
func (c *RPCClient) SubmitBlock(ctx context.Context, blockHex string) (string, error) {
	result, err := c.call(ctx, "submitblock", blockHex)
	if err != nil {
		return "", fmt.Errorf("submitblock: %w", err)
	}

	var verdict string
	if err := json.Unmarshal(result, &verdict); err != nil {
		// Not a string: report the raw result as the verdict. A JSON null
		// decodes without error above and yields the empty (accepted) verdict.
		return string(result), nil
	}
	return verdict, nil
}

// GetMiningInfo returns chain mining statistics.
func (c *RPCClient) GetMiningInfo(ctx context.Context) (*MiningInfo, error) {
	result, err := c.call(ctx, "getmininginfo")
	if err != nil {
		return nil, fmt.Errorf("getmininginfo: %w", err)
	}

	var info MiningInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("unmarshal mining info: %w", err)
	}

	return &info, nil
}
