// internal/dex/jupiter/client.go

package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/flashloan-arb/internal/dex/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "https://quote-api.jup.ag/v6"
	// DefaultRPS – запросов в секунду к публичному API.
	DefaultRPS = 5

	noRouteErrorCode = "COULD_NOT_FIND_ANY_ROUTE"
)

var ErrNoRoute = errors.New("no route found")

// Client – клиент Jupiter v6 swap API.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(baseURL string, rps float64, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = DefaultRPS
	}
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger.Named("jupiter"),
	}
}

// Quotes возвращает котировки in->out, лучшая первой. При max > 1 к лучшему
// маршруту добавляется прямой, если он отличается. Нет маршрута – пустой результат.
func (c *Client) Quotes(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps uint16, max int) ([]model.RouteQuote, error) {
	best, err := c.quote(ctx, in, out, amount, slippageBps, false)
	if errors.Is(err, ErrNoRoute) {
		c.logger.Debug("No route", zap.String("input", in.String()), zap.String("output", out.String()))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	quotes := []model.RouteQuote{*best}

	if max > 1 {
		direct, err := c.quote(ctx, in, out, amount, slippageBps, true)
		switch {
		case err == nil && direct.Label != best.Label:
			quotes = append(quotes, *direct)
		case err != nil && !errors.Is(err, ErrNoRoute):
			c.logger.Debug("Direct route quote failed", zap.Error(err))
		}
	}

	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].OutAmount > quotes[j].OutAmount })
	if len(quotes) > max && max > 0 {
		quotes = quotes[:max]
	}
	return quotes, nil
}

// Quote – лучшая котировка или nil, если маршрута нет.
func (c *Client) Quote(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps uint16) (*model.RouteQuote, error) {
	quotes, err := c.Quotes(ctx, in, out, amount, slippageBps, 1)
	if err != nil || len(quotes) == 0 {
		return nil, err
	}
	return &quotes[0], nil
}

func (c *Client) quote(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps uint16, onlyDirect bool) (*model.RouteQuote, error) {
	params := url.Values{}
	params.Set("inputMint", in.String())
	params.Set("outputMint", out.String())
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(int(slippageBps)))
	if onlyDirect {
		params.Set("onlyDirectRoutes", "true")
	}

	raw, err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp QuoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	return toRouteQuote(&resp, raw)
}

func toRouteQuote(resp *QuoteResponse, raw []byte) (*model.RouteQuote, error) {
	inMint, err := solana.PublicKeyFromBase58(resp.InputMint)
	if err != nil {
		return nil, fmt.Errorf("quote input mint: %w", err)
	}
	outMint, err := solana.PublicKeyFromBase58(resp.OutputMint)
	if err != nil {
		return nil, fmt.Errorf("quote output mint: %w", err)
	}
	inAmount, err := strconv.ParseUint(resp.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quote inAmount: %w", err)
	}
	outAmount, err := strconv.ParseUint(resp.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quote outAmount: %w", err)
	}

	label := ""
	for i, step := range resp.RoutePlan {
		if i > 0 {
			label += " > "
		}
		label += step.SwapInfo.Label
	}

	return &model.RouteQuote{
		InputMint:   inMint,
		OutputMint:  outMint,
		InAmount:    inAmount,
		OutAmount:   outAmount,
		SlippageBps: resp.SlippageBps,
		Label:       label,
		Raw:         raw,
	}, nil
}

// Instructions запрашивает инструкции для quote. Compute budget инструкции
// идут первыми в слоте swap.
func (c *Client) Instructions(ctx context.Context, quote model.RouteQuote, user solana.PublicKey) (*model.SwapBundle, error) {
	body, err := json.Marshal(swapInstructionsRequest{
		QuoteResponse:    quote.Raw,
		UserPublicKey:    user.String(),
		WrapAndUnwrapSol: false,
	})
	if err != nil {
		return nil, fmt.Errorf("encode swap request: %w", err)
	}

	raw, err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/swap-instructions", body)
	if err != nil {
		return nil, err
	}

	var resp SwapInstructionsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode swap instructions: %w", err)
	}
	if resp.SwapInstruction == nil {
		return nil, fmt.Errorf("swap instruction missing for route %q", quote.Label)
	}

	bundle := &model.SwapBundle{}
	for _, ix := range resp.SetupInstructions {
		built, err := ix.build()
		if err != nil {
			return nil, err
		}
		bundle.Setup = append(bundle.Setup, built)
	}
	for _, ix := range resp.ComputeBudgetInstructions {
		built, err := ix.build()
		if err != nil {
			return nil, err
		}
		bundle.Swap = append(bundle.Swap, built)
	}
	swap, err := resp.SwapInstruction.build()
	if err != nil {
		return nil, err
	}
	bundle.Swap = append(bundle.Swap, swap)
	if resp.CleanupInstruction != nil {
		cleanup, err := resp.CleanupInstruction.build()
		if err != nil {
			return nil, err
		}
		bundle.Cleanup = append(bundle.Cleanup, cleanup)
	}
	for _, addr := range resp.AddressLookupTableAddresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("lookup table address %q: %w", addr, err)
		}
		bundle.LookupTables = append(bundle.LookupTables, pk)
	}
	return bundle, nil
}

func (ix *Instruction) build() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("instruction program id %q: %w", ix.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("instruction data: %w", err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, acc := range ix.Accounts {
		pk, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("instruction account %q: %w", acc.Pubkey, err)
		}
		metas = append(metas, solana.NewAccountMeta(pk, acc.IsWritable, acc.IsSigner))
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// doRequest выполняет HTTP запрос с учетом rate limit
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.ErrorCode == noRouteErrorCode {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
