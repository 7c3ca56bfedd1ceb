package guard

// Состояния планировщика цикла защиты
const (
	StateIdle         = "IDLE"          // ожидание следующего тика
	StateCycleRunning = "CYCLE_RUNNING" // идёт цикл оценки
	StateStopping     = "STOPPING"      // получен сигнал остановки, цикл дорабатывает
	StateStopped      = "STOPPED"       // планировщик завершён
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[string][]string{
	StateIdle:         {StateCycleRunning, StateStopping},
	StateCycleRunning: {StateIdle, StateStopping},
	StateStopping:     {StateStopped},
	StateStopped:      {}, // терминальное состояние
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для логов и healthz
func StateInfo(s string) string {
	switch s {
	case StateIdle:
		return "Ожидание следующего цикла защиты"
	case StateCycleRunning:
		return "Выполняется цикл оценки позиций"
	case StateStopping:
		return "Остановка: текущий цикл дорабатывает"
	case StateStopped:
		return "Планировщик остановлен"
	default:
		return "Неизвестное состояние"
	}
}

// IsRunning возвращает true пока планировщик не начал останавливаться
func IsRunning(s string) bool {
	return s == StateIdle || s == StateCycleRunning
}
