package akshare

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "20240102", normalizeDate("2024-01-02"))
	assert.Equal(t, "20240102", normalizeDate("2024/01/02"))
	assert.Equal(t, "20240102", normalizeDate("20240102"))
}

func TestWireBarToBar(t *testing.T) {
	w := wireBar{Date: "2024-01-02", Close: 10.5}
	b := w.toBar()
	assert.Equal(t, "20240102", b.TradeDate)
	assert.Equal(t, 10.5, *b.Close)
}
