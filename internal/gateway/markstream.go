package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// markstream.go - WebSocket кэш отметочных цен
//
// Назначение:
// Держит подписку на поток markPrice и кэширует последнюю цену по
// каждому символу. Цикл защиты сначала спрашивает кэш; REST запрос
// делается только если кэш пуст или устарел.
//
// Функции:
// - Автоматическое переподключение с exponential backoff (2s, 4s, 8s, 16s)
// - Повторная подписка на символы после переподключения
// - Ping/Pong для проверки живости соединения
// - Контроль свежести: устаревшая цена не выдаётся

// StreamConfig - конфигурация потока цен
type StreamConfig struct {
	// URL WebSocket endpoint
	URL string

	// MaxAge - максимальный возраст цены в кэше
	MaxAge time.Duration

	// Начальная задержка переподключения
	InitialReconnectDelay time.Duration

	// Максимальная задержка переподключения
	MaxReconnectDelay time.Duration

	// Таймаут подключения
	ConnectTimeout time.Duration

	// Интервал ping
	PingInterval time.Duration
}

// DefaultStreamConfig возвращает конфигурацию по умолчанию
func DefaultStreamConfig(url string, maxAge time.Duration) StreamConfig {
	return StreamConfig{
		URL:                   url,
		MaxAge:                maxAge,
		InitialReconnectDelay: 2 * time.Second,
		MaxReconnectDelay:     16 * time.Second,
		ConnectTimeout:        10 * time.Second,
		PingInterval:          30 * time.Second,
	}
}

// Состояния соединения
const (
	streamStateDisconnected int32 = iota
	streamStateConnected
	streamStateClosed
)

// MarkStream - кэш отметочных цен поверх WebSocket потока
type MarkStream struct {
	config StreamConfig
	logger *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	state int32 // atomic

	// Последние цены по символам
	prices   map[string]*MarkPrice
	pricesMu sync.RWMutex

	// Активные подписки (для восстановления после переподключения)
	symbols   map[string]struct{}
	symbolsMu sync.Mutex

	// Счётчик id исходящих сообщений
	msgID int64 // atomic

	closeChan chan struct{}
	closeOnce sync.Once
}

// NewMarkStream создаёт новый кэш цен. Соединение устанавливается
// вызовом Start.
func NewMarkStream(config StreamConfig, logger *zap.Logger) *MarkStream {
	return &MarkStream{
		config:    config,
		logger:    logger,
		prices:    make(map[string]*MarkPrice),
		symbols:   make(map[string]struct{}),
		closeChan: make(chan struct{}),
	}
}

// Start подключается и запускает цикл чтения с автоматическим
// переподключением. Блокирует только до первого подключения.
func (ms *MarkStream) Start(ctx context.Context) error {
	if err := ms.connect(ctx); err != nil {
		return err
	}

	go ms.readLoop()
	go ms.pingLoop()

	return nil
}

// connect устанавливает соединение и восстанавливает подписки
func (ms *MarkStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: ms.config.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, ms.config.URL, nil)
	if err != nil {
		return fmt.Errorf("mark stream dial %s: %w", ms.config.URL, err)
	}

	ms.connMu.Lock()
	ms.conn = conn
	ms.connMu.Unlock()
	atomic.StoreInt32(&ms.state, streamStateConnected)

	ms.logger.Info("mark price stream connected", zap.String("url", ms.config.URL))

	return ms.resubscribe()
}

// resubscribe восстанавливает подписки на все символы
func (ms *MarkStream) resubscribe() error {
	ms.symbolsMu.Lock()
	params := make([]string, 0, len(ms.symbols))
	for s := range ms.symbols {
		params = append(params, strings.ToLower(s)+"@markPrice@1s")
	}
	ms.symbolsMu.Unlock()

	if len(params) == 0 {
		return nil
	}

	return ms.send(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     atomic.AddInt64(&ms.msgID, 1),
	})
}

// Subscribe подписывается на поток цен символа
func (ms *MarkStream) Subscribe(symbol string) error {
	ms.symbolsMu.Lock()
	if _, ok := ms.symbols[symbol]; ok {
		ms.symbolsMu.Unlock()
		return nil
	}
	ms.symbols[symbol] = struct{}{}
	ms.symbolsMu.Unlock()

	if atomic.LoadInt32(&ms.state) != streamStateConnected {
		// Подписка отправится после переподключения
		return nil
	}

	return ms.send(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{strings.ToLower(symbol) + "@markPrice@1s"},
		"id":     atomic.AddInt64(&ms.msgID, 1),
	})
}

// Get возвращает цену из кэша, если она не старше MaxAge
func (ms *MarkStream) Get(symbol string) (*MarkPrice, bool) {
	ms.pricesMu.RLock()
	price, ok := ms.prices[symbol]
	ms.pricesMu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Since(price.Time) > ms.config.MaxAge {
		return nil, false
	}
	return price, true
}

// send отправляет сообщение в WebSocket
func (ms *MarkStream) send(msg interface{}) error {
	ms.connMu.Lock()
	defer ms.connMu.Unlock()

	if ms.conn == nil {
		return fmt.Errorf("mark stream not connected")
	}
	return ms.conn.WriteJSON(msg)
}

// readLoop читает сообщения и переподключается при разрывах
func (ms *MarkStream) readLoop() {
	for {
		select {
		case <-ms.closeChan:
			return
		default:
		}

		ms.connMu.Lock()
		conn := ms.conn
		ms.connMu.Unlock()

		if conn == nil {
			ms.reconnect()
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if atomic.LoadInt32(&ms.state) == streamStateClosed {
				return
			}
			ms.logger.Warn("mark price stream read error", zap.Error(err))
			atomic.StoreInt32(&ms.state, streamStateDisconnected)
			ms.reconnect()
			continue
		}

		ms.handleMessage(message)
	}
}

// markPriceUpdate - событие потока markPrice
type markPriceUpdate struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

// handleMessage обновляет кэш из события markPriceUpdate
func (ms *MarkStream) handleMessage(message []byte) {
	var update markPriceUpdate
	if err := json.Unmarshal(message, &update); err != nil {
		return
	}
	if update.Event != "markPriceUpdate" || update.Symbol == "" {
		// Ответы на SUBSCRIBE и служебные сообщения игнорируются
		return
	}

	price, err := strconv.ParseFloat(update.MarkPrice, 64)
	if err != nil || price <= 0 {
		ms.logger.Warn("invalid mark price in stream",
			zap.String("symbol", update.Symbol),
			zap.String("raw", update.MarkPrice))
		return
	}

	ms.pricesMu.Lock()
	ms.prices[update.Symbol] = &MarkPrice{
		Symbol: update.Symbol,
		Price:  price,
		Time:   time.UnixMilli(update.EventTime),
	}
	ms.pricesMu.Unlock()
}

// reconnect переподключается с exponential backoff
func (ms *MarkStream) reconnect() {
	delay := ms.config.InitialReconnectDelay

	for {
		select {
		case <-ms.closeChan:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), ms.config.ConnectTimeout)
		err := ms.connect(ctx)
		cancel()

		if err == nil {
			return
		}

		ms.logger.Warn("mark price stream reconnect failed",
			zap.Error(err),
			zap.Duration("next_delay", delay))

		delay *= 2
		if delay > ms.config.MaxReconnectDelay {
			delay = ms.config.MaxReconnectDelay
		}
	}
}

// pingLoop периодически отправляет ping для проверки живости
func (ms *MarkStream) pingLoop() {
	ticker := time.NewTicker(ms.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.closeChan:
			return
		case <-ticker.C:
			ms.connMu.Lock()
			conn := ms.conn
			ms.connMu.Unlock()
			if conn == nil {
				continue
			}
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				ms.logger.Debug("mark price stream ping failed", zap.Error(err))
			}
		}
	}
}

// Close останавливает поток и закрывает соединение
func (ms *MarkStream) Close() error {
	var err error
	ms.closeOnce.Do(func() {
		atomic.StoreInt32(&ms.state, streamStateClosed)
		close(ms.closeChan)

		ms.connMu.Lock()
		if ms.conn != nil {
			err = ms.conn.Close()
			ms.conn = nil
		}
		ms.connMu.Unlock()
	})
	return err
}
