package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEnglish(t *testing.T) {
	spans := Split("hello world 123")
	require.Len(t, spans, 3)

	runes := []rune("hello world 123")
	assert.Equal(t, "hello", string(runes[spans[0].Start:spans[0].End]))
	assert.Equal(t, "world", string(runes[spans[1].Start:spans[1].End]))
	assert.Equal(t, "123", string(runes[spans[2].Start:spans[2].End]))
}

func TestSplitCJKPerRune(t *testing.T) {
	// 每个汉字是一个独立 token
	assert.Equal(t, 4, Count("向量检索"))
}

func TestSplitMixed(t *testing.T) {
	// 汉字逐字 + 字母串整体
	text := "用Go写服务"
	spans := Split(text)
	require.Len(t, spans, 5)

	runes := []rune(text)
	assert.Equal(t, "用", string(runes[spans[0].Start:spans[0].End]))
	assert.Equal(t, "Go", string(runes[spans[1].Start:spans[1].End]))
	assert.Equal(t, "写", string(runes[spans[2].Start:spans[2].End]))
}

func TestSplitIgnoresPunctuationAndSpace(t *testing.T) {
	assert.Equal(t, 2, Count("hello, world!"))
	assert.Equal(t, 0, Count("  \n\t ,.!?  "))
	assert.Equal(t, 0, Count(""))
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("确定性 deterministic 切分 123 ", 50)
	first := Split(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Split(text))
	}
}
