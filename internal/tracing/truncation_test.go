package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "张*", MaskPII("张三"))
	assert.Equal(t, "王*明", MaskPII("王小明"))
	assert.Equal(t, "my***************om", MaskPII("myemail@example.com"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	got := TruncateString("abcdefghijklmnop", 9)
	assert.Len(t, []rune(got), 9)
	assert.Contains(t, got, "...")
}

func TestSafeAttributeValue(t *testing.T) {
	// 命中敏感关键字的属性被掩码而不是截断
	masked := SafeAttributeValue("email.from_address", "recruiting@acme.example", DefaultMaxLength)
	assert.NotContains(t, masked, "acme")

	plain := SafeAttributeValue("db.statement", "SELECT * FROM jobs", DefaultMaxLength)
	assert.Equal(t, "SELECT * FROM jobs", plain)
}
