// Package tracking генерирует номера отслеживания отправлений.
package tracking

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"
)

// Границы групп номера (включительно): DDD-DDDDD-DD.
const (
	prefixMin = 100
	prefixMax = 999
	middleMin = 10000
	middleMax = 99999
	suffixMin = 10
	suffixMax = 99
)

// Pattern описывает формат номера отслеживания.
var Pattern = regexp.MustCompile(`^\d{3}-\d{5}-\d{2}$`)

// Generator выдаёт номера отслеживания. Безопасен для конкурентного использования.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator возвращает генератор на глобальном источнике math/rand/v2.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewSeededGenerator возвращает детерминированный генератор (для тестов и нагрузочных прогонов).
func NewSeededGenerator(seed1, seed2 uint64) *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(seed1, seed2))}
}

// Next возвращает новый номер вида DDD-DDDDD-DD. Группы выбираются независимо.
func (g *Generator) Next() string {
	prefix := g.between(prefixMin, prefixMax)
	middle := g.between(middleMin, middleMax)
	suffix := g.between(suffixMin, suffixMax)
	return fmt.Sprintf("%03d-%05d-%02d", prefix, middle, suffix)
}

func (g *Generator) between(lo, hi int) int {
	n := hi - lo + 1
	if g.rnd == nil {
		return lo + rand.IntN(n)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return lo + g.rnd.IntN(n)
}
