package classifier

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mikey/sortana/internal/core"
)

// ErrInvalidResponse is returned when the model output is not the expected JSON object
var ErrInvalidResponse = errors.New("invalid classification response")

var thinkBlock = regexp.MustCompile(`(?is)<think>(.*?)</think>`)

// BuildCacheKey fingerprints a (message, criterion) pair as SHA-256 hex of "id|criterion"
func BuildCacheKey(id core.MessageID, criterion string) string {
	sum := sha256.Sum256([]byte(string(id) + "|" + criterion))
	return hex.EncodeToString(sum[:])
}

// ParseResponse extracts the verdict and the <think> rationale from raw model output.
// Anything other than a literal true in "match" (or the older "matched") is a non-match.
func ParseResponse(text string) (core.Verdict, error) {
	var reasons []string
	for _, m := range thinkBlock.FindAllStringSubmatch(text, -1) {
		if r := strings.TrimSpace(m[1]); r != "" {
			reasons = append(reasons, r)
		}
	}

	cleaned := strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return core.Verdict{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return core.Verdict{
		Matched: isTrue(obj["match"]) || isTrue(obj["matched"]),
		Reason:  strings.Join(reasons, "\n"),
	}, nil
}

func isTrue(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("true"))
}
