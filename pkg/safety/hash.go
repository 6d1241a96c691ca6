package safety

import (
	"strconv"
	"strings"
)

// PromptHash normalises a prompt (lowercase, trimmed, whitespace runs
// collapsed) and hashes it with DJB2, rendered base-36. Deterministic
// and cheap; two prompts differing only in case or spacing collide on
// purpose so the cycle detector treats them as the same delegation.
func PromptHash(prompt string) string {
	normalised := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")

	var h uint64 = 5381
	for _, c := range []byte(normalised) {
		h = h*33 + uint64(c)
	}
	return strconv.FormatUint(h, 36)
}
