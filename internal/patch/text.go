package patch

import (
	"fmt"
	"strings"

	"github.com/modkit-labs/modkit/internal/capability"
)

// textInsertOnce inserts op.Content before or after the first occurrence
// of op.Anchor. Content already sitting at the insertion point makes the
// op a no-op; the presence check is scoped to the anchor, so the same
// snippet appearing elsewhere in the file never masks the insert.
func (e *Engine) textInsertOnce(op capability.PatchSpec) ([]byte, string, error) {
	data, err := e.readFile(op.File)
	if err != nil {
		return nil, "", err
	}
	text := string(data)

	idx := strings.Index(text, op.Anchor)
	if idx < 0 {
		return nil, "", fmt.Errorf("anchor %q not found in %s", truncate(op.Anchor, 40), op.File)
	}
	if contentCovers(text, op.Content, idx, len(op.Anchor)) {
		return nil, "content already present", nil
	}

	if op.Position == "before" {
		if strings.HasSuffix(text[:idx], op.Content) {
			return nil, "content already present", nil
		}
		return []byte(text[:idx] + op.Content + text[idx:]), "", nil
	}

	end := idx + len(op.Anchor)
	if strings.HasPrefix(text[end:], op.Content) {
		return nil, "content already present", nil
	}
	return []byte(text[:end] + op.Content + text[end:]), "", nil
}

// textReplaceOnce replaces the first occurrence of op.Anchor with
// op.Content. Once the anchor is gone and the content is in place the op
// reports already-present instead of failing on the missing anchor; a
// live anchor is replaced even when the same content appears elsewhere
// in the file.
func (e *Engine) textReplaceOnce(op capability.PatchSpec) ([]byte, string, error) {
	data, err := e.readFile(op.File)
	if err != nil {
		return nil, "", err
	}
	text := string(data)

	idx := strings.Index(text, op.Anchor)
	if idx < 0 {
		if strings.Contains(text, op.Content) {
			return nil, "content already present", nil
		}
		return nil, "", fmt.Errorf("anchor %q not found in %s", truncate(op.Anchor, 40), op.File)
	}
	if contentCovers(text, op.Content, idx, len(op.Anchor)) {
		return nil, "content already present", nil
	}

	return []byte(text[:idx] + op.Content + text[idx+len(op.Anchor):]), "", nil
}

// contentCovers reports whether an occurrence of content fully contains
// the anchor occurrence at [idx, idx+n). Inserted or substituted content
// that itself repeats the anchor would otherwise be patched again.
func contentCovers(text, content string, idx, n int) bool {
	if content == "" {
		return false
	}
	from := 0
	for {
		c := strings.Index(text[from:], content)
		if c < 0 {
			return false
		}
		c += from
		if c > idx {
			return false
		}
		if idx+n <= c+len(content) {
			return true
		}
		from = c + 1
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
