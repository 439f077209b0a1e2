package external

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HTTPSwapOracle is the concrete SwapOracle (spec §6.E): a 1inch-style HTTP
// swap-quote service, JSON in/out, matching this pack's
// http.Client-with-timeout + json.NewDecoder convention for external data
// providers (grounded on the other examples' REST collector clients — this
// repo's teacher never talks to an HTTP API itself).
type HTTPSwapOracle struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPSwapOracle(baseURL, apiKey string) *HTTPSwapOracle {
	return &HTTPSwapOracle{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 5 * time.Second}}
}

type swapQuoteResponse struct {
	MinOut string `json:"minOut"`
	Data   string `json:"data"`
}

func (o *HTTPSwapOracle) GetSwapCalldata(ctx context.Context, req SwapRequest) (SwapQuote, error) {
	url := fmt.Sprintf("%s/quote?from=%s&to=%s&amount=%s&sender=%s&slippageBps=%s",
		o.baseURL, req.FromToken, req.ToToken, req.AmountRaw.String(), req.FromAddress, strconv.FormatInt(req.SlippageBps, 10))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return SwapQuote{}, err
	}
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return SwapQuote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SwapQuote{}, fmt.Errorf("external: swap quote status %d", resp.StatusCode)
	}

	var out swapQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SwapQuote{}, err
	}

	minOut, ok := new(big.Int).SetString(out.MinOut, 10)
	if !ok {
		return SwapQuote{}, fmt.Errorf("external: malformed minOut %q", out.MinOut)
	}
	data := []byte(out.Data)
	if len(out.Data) >= 2 && out.Data[:2] == "0x" {
		decoded, err := hexutil.Decode(out.Data)
		if err != nil {
			return SwapQuote{}, err
		}
		data = decoded
	}
	return SwapQuote{MinOutRaw: minOut, Data: data}, nil
}
