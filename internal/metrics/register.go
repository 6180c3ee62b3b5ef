package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Register регистрирует коллектор и возвращает уже зарегистрированный
// коллектор того же типа, если имя занято. Nil-реестр заменяется глобальным.
func Register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
		panic(fmt.Sprintf("collector already registered with another type: %T", are.ExistingCollector))
	}
	panic(fmt.Sprintf("register collector: %v", err))
}
