package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"guardian/internal/config"
	"guardian/internal/gateway"
	"guardian/internal/models"
	"guardian/internal/repository"
	"guardian/pkg/retry"
	"guardian/pkg/utils"
)

// ErrCycleInProgress возвращается когда цикл уже выполняется.
// Наложившиеся тики не ставятся в очередь - пропущенный тик
// компенсируется следующим.
var ErrCycleInProgress = errors.New("protection cycle already in progress")

// ErrSchedulerStopped возвращается после остановки планировщика
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Индексы состояний для atomic CAS (строковые значения в state_machine.go)
const (
	stateIdleIdx int32 = iota
	stateCycleRunningIdx
	stateStoppingIdx
	stateStoppedIdx
)

var stateNames = [...]string{StateIdle, StateCycleRunning, StateStopping, StateStopped}

// CycleStats - итоги одного цикла защиты
type CycleStats struct {
	Open      int           // открытых позиций на входе
	Evaluated int           // оценено
	Triggered int           // сработавших правил
	Failed    int           // сбоев действий или оценки
	Skipped   int           // пропущено (позиция занята другим воркером)
	Duration  time.Duration // длительность цикла
}

// Scheduler управляет периодическим циклом защиты.
//
// Один цикл: загрузить открытые позиции, параллельно (пул воркеров)
// получить цену, оценить правила, исполнить решения. Сбой на одной
// позиции не прерывает цикл; фатальная ошибка хранилища - прерывает.
//
// Защита от наложения циклов - atomic CAS на состоянии: если тик
// пришёл во время работающего цикла, он пропускается.
type Scheduler struct {
	store    PositionStore
	gateway  gateway.Gateway
	executor *Executor
	locks    *TradeLocks

	protectionCfg config.ProtectionConfig
	schedulerCfg  config.SchedulerConfig

	logger *zap.Logger

	state     int32 // atomic, индекс состояния
	lastCycle int64 // atomic, unix-время конца последнего цикла

	priceRetry retry.Config
}

// NewScheduler создает новый планировщик цикла защиты
func NewScheduler(
	store PositionStore,
	gw gateway.Gateway,
	executor *Executor,
	protectionCfg config.ProtectionConfig,
	schedulerCfg config.SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	priceRetry := retry.DefaultConfig()
	priceRetry.RetryIf = retry.IsRetryable

	return &Scheduler{
		store:         store,
		gateway:       gw,
		executor:      executor,
		locks:         NewTradeLocks(),
		protectionCfg: protectionCfg,
		schedulerCfg:  schedulerCfg,
		logger:        logger,
		state:         stateIdleIdx,
		priceRetry:    priceRetry,
	}
}

// State возвращает текущее состояние планировщика
func (s *Scheduler) State() string {
	return stateNames[atomic.LoadInt32(&s.state)]
}

// Locks возвращает набор блокировок позиций. Ручное закрытие через API
// использует те же блокировки, что и цикл защиты.
func (s *Scheduler) Locks() *TradeLocks {
	return s.locks
}

// LastCycleAt возвращает время окончания последнего цикла
// (нулевое время если циклов ещё не было)
func (s *Scheduler) LastCycleAt() time.Time {
	ts := atomic.LoadInt64(&s.lastCycle)
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// RunOnce выполняет один цикл защиты.
//
// Возвращает ErrCycleInProgress если цикл уже идёт (re-entrancy guard).
// Фатальная ошибка хранилища возвращается вызывающему - планировщик
// должен остановиться, а не молча работать без персистентности.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleStats, error) {
	if !atomic.CompareAndSwapInt32(&s.state, stateIdleIdx, stateCycleRunningIdx) {
		current := atomic.LoadInt32(&s.state)
		if current == stateStoppingIdx || current == stateStoppedIdx {
			return nil, ErrSchedulerStopped
		}
		CyclesTotal.WithLabelValues("skipped").Inc()
		return nil, ErrCycleInProgress
	}
	// STOPPING может быть выставлен конкурентно во время цикла;
	// возврат в IDLE тогда не выполняется
	defer atomic.CompareAndSwapInt32(&s.state, stateCycleRunningIdx, stateIdleIdx)

	start := time.Now()
	stats, err := s.cycle(ctx)

	atomic.StoreInt64(&s.lastCycle, time.Now().Unix())

	if err != nil {
		CyclesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	stats.Duration = time.Since(start)
	CyclesTotal.WithLabelValues("completed").Inc()
	CycleDuration.Observe(stats.Duration.Seconds())

	s.logger.Info("protection cycle complete",
		zap.Int("open", stats.Open),
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("triggered", stats.Triggered),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", stats.Duration))

	return stats, nil
}

// cycle - тело одного цикла
func (s *Scheduler) cycle(ctx context.Context) (*CycleStats, error) {
	positions, err := s.store.GetOpen()
	if err != nil {
		if repository.IsFatalStoreError(err) {
			return nil, err
		}
		// Транзиентная ошибка чтения: цикл пропускается, следующий тик
		// попробует снова
		s.logger.Error("failed to load open positions", zap.Error(err))
		return nil, err
	}

	stats := &CycleStats{Open: len(positions)}
	OpenPositions.Set(float64(len(positions)))

	if len(positions) == 0 {
		return stats, nil
	}

	var evaluated, triggered, failed, skipped int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.schedulerCfg.Workers)

	var fatalErr atomic.Value

	for _, p := range positions {
		p := p
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			if !s.locks.TryLock(p.TradeID) {
				atomic.AddInt64(&skipped, 1)
				return nil
			}
			defer s.locks.Unlock(p.TradeID)

			outcome, err := s.protect(gctx, p)
			switch outcome {
			case outcomeNone:
				atomic.AddInt64(&evaluated, 1)
			case outcomeTriggered:
				atomic.AddInt64(&evaluated, 1)
				atomic.AddInt64(&triggered, 1)
			case outcomeFailed:
				atomic.AddInt64(&failed, 1)
			case outcomeFatal:
				atomic.AddInt64(&failed, 1)
				fatalErr.Store(err)
				// Отменяет остальных воркеров через gctx
				return err
			}
			return nil
		})
	}

	_ = g.Wait()

	stats.Evaluated = int(evaluated)
	stats.Triggered = int(triggered)
	stats.Failed = int(failed)
	stats.Skipped = int(skipped)
	PositionsEvaluated.Add(float64(evaluated))

	if v := fatalErr.Load(); v != nil {
		return nil, v.(error)
	}

	return stats, nil
}

// Итог обработки одной позиции
type protectOutcome int

const (
	outcomeNone protectOutcome = iota
	outcomeTriggered
	outcomeFailed
	outcomeFatal
)

// protect обрабатывает одну позицию: цена → оценка → исполнение
func (s *Scheduler) protect(ctx context.Context, p *models.Position) (protectOutcome, error) {
	price, err := retry.DoWithResult(ctx, func() (*gateway.MarkPrice, error) {
		return s.gateway.GetMarkPrice(ctx, p.Symbol)
	}, s.priceRetry)
	if err != nil {
		// Без цены решение не принимается: лучше пропустить тик, чем
		// действовать по устаревшим данным
		s.logger.Warn("mark price unavailable, position skipped",
			zap.Int64("trade_id", p.TradeID),
			zap.String("symbol", p.Symbol),
			zap.Error(err))
		return outcomeFailed, err
	}

	snapshot := Evaluate(p, price.Price, time.Now().UTC(), s.protectionCfg)

	if err := s.executor.Execute(ctx, p, snapshot); err != nil {
		if repository.IsFatalStoreError(err) {
			return outcomeFatal, err
		}
		s.logger.Error("protective action failed",
			zap.Int64("trade_id", p.TradeID),
			zap.String("rule", snapshot.Decision),
			zap.Error(err))
		return outcomeFailed, err
	}

	if snapshot.ActionRequired() {
		return outcomeTriggered, nil
	}
	return outcomeNone, nil
}

// Run выполняет циклы защиты с заданным интервалом до отмены контекста.
//
// Первый цикл запускается сразу, не дожидаясь тика. При остановке
// текущий цикл дорабатывает до конца, затем логируется сводка по
// открытым позициям, требующим внимания.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("protection scheduler started",
		zap.Duration("interval", s.schedulerCfg.Interval),
		zap.Int("workers", s.schedulerCfg.Workers))

	// Тело цикла не наследует отмену ctx: остановка не должна обрывать
	// цикл между исполнением на бирже и записью в хранилище. ctx
	// управляет только ожиданием между тиками; начатый цикл дорабатывает
	// до конца, его длительность ограничена тайм-аутами шлюза и retry.
	cycleCtx := context.WithoutCancel(ctx)

	if _, err := s.RunOnce(cycleCtx); err != nil && repository.IsFatalStoreError(err) {
		return s.stop(err)
	}

	ticker := time.NewTicker(s.schedulerCfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.stop(nil)

		case <-ticker.C:
			_, err := s.RunOnce(cycleCtx)
			switch {
			case err == nil:
			case errors.Is(err, ErrCycleInProgress):
				s.logger.Warn("cycle tick skipped, previous cycle still running")
			case repository.IsFatalStoreError(err):
				s.logger.Error("fatal store error, stopping scheduler", zap.Error(err))
				return s.stop(err)
			default:
				s.logger.Error("protection cycle failed", zap.Error(err))
			}
		}
	}
}

// setState переводит планировщик в состояние toIdx, если переход
// допустим по таблице ValidTransitions
func (s *Scheduler) setState(toIdx int32) bool {
	for {
		cur := atomic.LoadInt32(&s.state)
		if !CanTransition(stateNames[cur], stateNames[toIdx]) {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.state, cur, toIdx) {
			return true
		}
	}
}

// stop переводит планировщик в STOPPED и пишет сводку о незакрытых
// позициях
func (s *Scheduler) stop(cause error) error {
	if !s.setState(stateStoppingIdx) {
		// Уже останавливается или остановлен
		return cause
	}
	s.shutdownSummary()
	s.setState(stateStoppedIdx)

	s.logger.Info("protection scheduler stopped")
	return cause
}

// shutdownSummary логирует открытые позиции, остающиеся без защиты
// после остановки
func (s *Scheduler) shutdownSummary() {
	positions, err := s.store.GetOpen()
	if err != nil {
		s.logger.Error("shutdown summary unavailable", zap.Error(err))
		return
	}

	if len(positions) == 0 {
		s.logger.Info("no open positions at shutdown")
		return
	}

	s.logger.Warn("open positions left unprotected at shutdown",
		zap.Int("count", len(positions)))

	now := time.Now().UTC()
	for _, p := range positions {
		held := utils.MinutesSince(p.OpenedAt, now)
		field := s.logger.Info
		if held > float64(s.protectionCfg.MaxHoldingMinutes) {
			field = s.logger.Warn
		}
		field("open position",
			zap.Int64("trade_id", p.TradeID),
			zap.String("symbol", p.Symbol),
			zap.String("direction", p.Direction),
			zap.Float64("held_minutes", held),
			zap.Float64("remaining_usdt", p.RemainingUSDT))
	}
}
