package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"guardian/pkg/ratelimit"
	"guardian/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ Gateway = (*BinanceGateway)(nil)

const (
	binanceRecvWindow = "5000"

	// Префикс clientOrderId: по нему ордера движка отличимы от ручных
	clientOrderPrefix = "grd-"
)

// Коды ошибок Binance, требующие особой обработки
const (
	// ReduceOnly ордер отклонён: позиции уже нет
	codeReduceOnlyRejected = -2022
	// Ордер не существует (при сверке)
	codeUnknownOrder = -2011
	// Timestamp вне recvWindow: рассинхрон часов, имеет смысл повторить
	codeInvalidTimestamp = -1021
)

// BinanceGateway реализует Gateway поверх Binance USDⓈ-M Futures REST API.
//
// Цены берутся из WebSocket кэша (MarkStream), REST запрос premiumIndex
// выполняется только при устаревшем кэше. Закрывающие ордера - всегда
// reduce-only MARKET: защитный движок никогда не наращивает позицию.
type BinanceGateway struct {
	apiKey    string
	secretKey string
	baseURL   string

	httpClient *http.Client
	limiter    *ratelimit.MultiLimiter
	stream     *MarkStream
	logger     *zap.Logger

	// Кэш шага лота по символам (из exchangeInfo)
	lotSizes   map[string]float64
	lotSizesMu chan struct{} // семафор на ленивую загрузку exchangeInfo
}

// BinanceConfig - параметры создания шлюза
type BinanceConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string

	HTTPConfig HTTPClientConfig

	// Stream - опциональный WS кэш цен (nil = только REST)
	Stream *MarkStream
}

// NewBinanceGateway создает новый шлюз Binance.
//
// Лимиты категорий подобраны консервативно под бюджеты Binance futures:
// ордера 5 rps (биржевой лимит 300/10s), публичные данные 10 rps.
func NewBinanceGateway(cfg BinanceConfig, logger *zap.Logger) *BinanceGateway {
	limiter := ratelimit.NewMultiLimiter()
	limiter.Add(ratelimit.CategoryOrder, 5, 10)
	limiter.Add(ratelimit.CategoryMarketData, 10, 20)

	sem := make(chan struct{}, 1)
	sem <- struct{}{}

	return &BinanceGateway{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.APISecret,
		baseURL:    cfg.BaseURL,
		httpClient: NewHTTPClient(cfg.HTTPConfig),
		limiter:    limiter,
		stream:     cfg.Stream,
		logger:     logger,
		lotSizes:   make(map[string]float64),
		lotSizesMu: sem,
	}
}

// sign создает подпись HMAC-SHA256 для запроса
func (g *BinanceGateway) sign(query string) string {
	h := hmac.New(sha256.New, []byte(g.secretKey))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

// binanceError - тело ошибки Binance API
type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// doRequest выполняет HTTP запрос к Binance API.
// Транспортные сбои и 5xx/429 помечаются Transient для retry.
func (g *BinanceGateway) doRequest(ctx context.Context, method, endpoint, category string, params url.Values, signed bool) ([]byte, error) {
	if err := g.limiter.Wait(ctx, category); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}

	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", binanceRecvWindow)
	}

	// signature считается по итоговой строке запроса и идёт последним
	// параметром - вне сортировки url.Values
	query := params.Encode()
	if signed {
		query += "&signature=" + g.sign(query)
	}

	reqURL := g.baseURL + endpoint
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{
			Op:        endpoint,
			Message:   err.Error(),
			Original:  err,
			Transient: true,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{
			Op:        endpoint,
			Message:   "read response: " + err.Error(),
			Original:  err,
			Transient: true,
		}
	}

	if resp.StatusCode >= 400 {
		var apiErr binanceError
		_ = json.Unmarshal(body, &apiErr)

		return nil, &GatewayError{
			Op:        endpoint,
			Code:      apiErr.Code,
			Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, apiErr.Msg),
			Transient: isTransient(resp.StatusCode, apiErr.Code),
		}
	}

	return body, nil
}

// isTransient определяет имеет ли смысл повторить запрос.
// 5xx, rate limit (429/418) и рассинхрон часов - да;
// бизнес-ошибки (отклонённый ордер, валидация) - нет.
func isTransient(status, code int) bool {
	if status >= 500 || status == http.StatusTooManyRequests || status == 418 {
		return true
	}
	return code == codeInvalidTimestamp
}

// GetMarkPrice возвращает отметочную цену: сначала из WS кэша,
// при устаревшем кэше - REST premiumIndex
func (g *BinanceGateway) GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error) {
	if g.stream != nil {
		if price, ok := g.stream.Get(symbol); ok {
			return price, nil
		}
		// Подписка на будущие циклы; текущий запрос идёт через REST
		if err := g.stream.Subscribe(symbol); err != nil {
			g.logger.Debug("mark stream subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := g.doRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", ratelimit.CategoryMarketData, params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
		Time      int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &GatewayError{Op: "premiumIndex", Message: "decode: " + err.Error(), Original: err}
	}

	price, err := strconv.ParseFloat(result.MarkPrice, 64)
	if err != nil || price <= 0 {
		return nil, &GatewayError{
			Op:      "premiumIndex",
			Message: fmt.Sprintf("invalid mark price %q for %s", result.MarkPrice, symbol),
		}
	}

	return &MarkPrice{
		Symbol: result.Symbol,
		Price:  price,
		Time:   time.UnixMilli(result.Time),
	}, nil
}

// orderResponse - ответ на размещение ордера
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

// placeOrder размещает ордер и разбирает ответ
func (g *BinanceGateway) placeOrder(ctx context.Context, params url.Values) (*orderResponse, error) {
	body, err := g.doRequest(ctx, http.MethodPost, "/fapi/v1/order", ratelimit.CategoryOrder, params, true)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &GatewayError{Op: "order", Message: "decode: " + err.Error(), Original: err}
	}
	return &resp, nil
}

// closeSide возвращает сторону закрывающего ордера:
// long закрывается продажей, short - покупкой
func closeSide(short bool) string {
	if short {
		return SideBuy
	}
	return SideSell
}

// ClosePosition полностью закрывает позицию reduce-only MARKET ордером.
//
// Отклонение reduce-only (код -2022) означает что позиции на бирже уже
// нет - возвращается AlreadyClosed без ошибки, чтобы вызывающий провёл
// reconciliation.
func (g *BinanceGateway) ClosePosition(ctx context.Context, symbol string, short bool, qty float64) (*CloseResult, error) {
	roundedQty, err := g.roundQty(ctx, symbol, qty)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", closeSide(short))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(roundedQty, 'f', -1, 64))
	params.Set("reduceOnly", "true")
	params.Set("newClientOrderId", clientOrderPrefix+uuid.NewString())
	params.Set("newOrderRespType", "RESULT")

	resp, err := g.placeOrder(ctx, params)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.Code == codeReduceOnlyRejected {
			g.logger.Info("position already closed on exchange",
				zap.String("symbol", symbol))
			return &CloseResult{AlreadyClosed: true}, nil
		}
		return nil, err
	}

	result, err := closeResultFrom(resp)
	if err != nil {
		return nil, err
	}

	// Прежние защитные ордера не должны висеть после исполнения
	// закрывающего ордера
	if err := g.cancelAllOrders(ctx, symbol); err != nil {
		g.logger.Warn("failed to cancel remaining orders",
			zap.String("symbol", symbol), zap.Error(err))
	}

	return result, nil
}

// cancelAllOrders снимает все открытые ордера по символу
func (g *BinanceGateway) cancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	_, err := g.doRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", ratelimit.CategoryOrder, params, true)
	return err
}

// PartialClose закрывает часть позиции и выставляет новые защитные
// ордера STOP_MARKET / TAKE_PROFIT_MARKET на остаток
func (g *BinanceGateway) PartialClose(ctx context.Context, symbol string, short bool, qty, newSL, newTP float64) (*CloseResult, *ProtectiveOrders, error) {
	result, err := g.ClosePosition(ctx, symbol, short, qty)
	if err != nil {
		return nil, nil, err
	}
	if result.AlreadyClosed {
		return result, nil, nil
	}

	orders := &ProtectiveOrders{}

	slID, err := g.placeProtective(ctx, symbol, short, "STOP_MARKET", newSL)
	if err != nil {
		// Часть уже закрыта; сбой защитного ордера не откатывается,
		// но должен быть виден вызывающему
		return result, orders, fmt.Errorf("partial close done, stop loss replacement failed: %w", err)
	}
	orders.SLOrderID = slID

	tpID, err := g.placeProtective(ctx, symbol, short, "TAKE_PROFIT_MARKET", newTP)
	if err != nil {
		return result, orders, fmt.Errorf("partial close done, take profit replacement failed: %w", err)
	}
	orders.TPOrderID = tpID

	return result, orders, nil
}

// placeProtective выставляет защитный ордер на весь остаток позиции
func (g *BinanceGateway) placeProtective(ctx context.Context, symbol string, short bool, orderType string, stopPrice float64) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", closeSide(short))
	params.Set("type", orderType)
	params.Set("stopPrice", strconv.FormatFloat(stopPrice, 'f', -1, 64))
	params.Set("closePosition", "true")
	params.Set("newClientOrderId", clientOrderPrefix+uuid.NewString())

	resp, err := g.placeOrder(ctx, params)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// closeResultFrom строит CloseResult из ответа биржи
func closeResultFrom(resp *orderResponse) (*CloseResult, error) {
	avgPrice, err := strconv.ParseFloat(resp.AvgPrice, 64)
	if err != nil {
		return nil, &GatewayError{Op: "order", Message: "invalid avgPrice " + resp.AvgPrice}
	}
	executedQty, err := strconv.ParseFloat(resp.ExecutedQty, 64)
	if err != nil {
		return nil, &GatewayError{Op: "order", Message: "invalid executedQty " + resp.ExecutedQty}
	}

	return &CloseResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		FilledPrice: avgPrice,
		FilledQty:   executedQty,
	}, nil
}

// roundQty округляет количество вниз до шага лота символа
func (g *BinanceGateway) roundQty(ctx context.Context, symbol string, qty float64) (float64, error) {
	step, err := g.lotSize(ctx, symbol)
	if err != nil {
		return 0, err
	}

	rounded := utils.RoundToLotSize(qty, step)
	if rounded <= 0 {
		return 0, &GatewayError{
			Op:      "order",
			Message: fmt.Sprintf("quantity %f below lot size %f for %s", qty, step, symbol),
		}
	}
	return rounded, nil
}

// lotSize возвращает шаг лота символа, лениво загружая exchangeInfo
func (g *BinanceGateway) lotSize(ctx context.Context, symbol string) (float64, error) {
	select {
	case <-g.lotSizesMu:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { g.lotSizesMu <- struct{}{} }()

	if step, ok := g.lotSizes[symbol]; ok {
		return step, nil
	}

	body, err := g.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", ratelimit.CategoryMarketData, nil, false)
	if err != nil {
		return 0, err
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return 0, &GatewayError{Op: "exchangeInfo", Message: "decode: " + err.Error(), Original: err}
	}

	for _, s := range info.Symbols {
		for _, f := range s.Filters {
			if f.FilterType != "LOT_SIZE" {
				continue
			}
			if step, err := strconv.ParseFloat(f.StepSize, 64); err == nil && step > 0 {
				g.lotSizes[s.Symbol] = step
			}
		}
	}

	step, ok := g.lotSizes[symbol]
	if !ok {
		return 0, &GatewayError{
			Op:      "exchangeInfo",
			Message: "unknown symbol " + symbol,
		}
	}
	return step, nil
}

// Ping проверяет доступность REST API
func (g *BinanceGateway) Ping(ctx context.Context) error {
	_, err := g.doRequest(ctx, http.MethodGet, "/fapi/v1/ping", ratelimit.CategoryMarketData, nil, false)
	return err
}

// Close освобождает ресурсы шлюза
func (g *BinanceGateway) Close() error {
	if transport, ok := g.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	if g.stream != nil {
		return g.stream.Close()
	}
	return nil
}
