package guard

import "sync"

// TradeLocks - набор блокировок по trade_id.
//
// Гарантирует что одну позицию в каждый момент обрабатывает не более
// одного воркера, даже если циклы наложились (долгий цикл + ручное
// закрытие через API). Захват неблокирующий: занятая позиция
// пропускается до следующего цикла, а не ждётся.
type TradeLocks struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

// NewTradeLocks создает новый набор блокировок
func NewTradeLocks() *TradeLocks {
	return &TradeLocks{
		held: make(map[int64]struct{}),
	}
}

// TryLock пытается захватить позицию. false = уже обрабатывается.
func (tl *TradeLocks) TryLock(tradeID int64) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if _, busy := tl.held[tradeID]; busy {
		return false
	}
	tl.held[tradeID] = struct{}{}
	return true
}

// Unlock освобождает позицию
func (tl *TradeLocks) Unlock(tradeID int64) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	delete(tl.held, tradeID)
}

// Held возвращает количество захваченных позиций (для мониторинга)
func (tl *TradeLocks) Held() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.held)
}
