//go:build gofuzz

package lexer

import (
	"github.com/cardiffd/cardiffd/internal/pool"
)

func Fuzz(data []byte) int {
	l := Lexer{
		MetricPool: pool.NewMetricPool(0),
	}
	metric, err := l.Run(data, "")
	if err != nil {
		return 0
	}
	if metric == nil {
		panic("no metric and no error")
	}
	return 1
}
