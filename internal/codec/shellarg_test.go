package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsShellMetacharacters(t *testing.T) {
	assert.True(t, containsShellMetacharacters("find . | head -3"))
	assert.True(t, containsShellMetacharacters("a && b"))
	assert.True(t, containsShellMetacharacters("a || b"))
	assert.True(t, containsShellMetacharacters("cat <<EOF"))
	assert.False(t, containsShellMetacharacters("ls -la"))
}

func TestTokenizeShellWords(t *testing.T) {
	assert.Equal(t, []string{"ls", "-la"}, tokenizeShellWords("ls -la"))
	assert.Equal(t, []string{"echo", "hello world"}, tokenizeShellWords(`echo "hello world"`))
}

func TestWrapAsShellCommand(t *testing.T) {
	assert.Equal(t, []string{"bash", "-lc", "find . | head -3"}, wrapAsShellCommand([]string{"find . | head -3"}))
	already := []string{"bash", "-lc", "ls"}
	assert.Equal(t, already, wrapAsShellCommand(already))
	assert.Equal(t, []string{"ls", "-la"}, wrapAsShellCommand([]string{"ls", "-la"}))
}
