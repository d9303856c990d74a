package colony

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewInboxID generates a globally unique suffix for per-request reply inboxes.
func NewInboxID() string {
	return uuid.NewString()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}

// DeriveAgentID deterministically derives an agent ID from the initiating
// user prompt: hex(md5(prompt)). The system never fabricates IDs server-side;
// an ID is either supplied by the caller or derived here.
func DeriveAgentID(prompt string) string {
	sum := md5.Sum([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// HashArgs computes base64(md5(normalised args)). Empty or "{}" argument
// blobs hash to the empty string so that argument-free calls match on the
// normalised filename instead.
func HashArgs(args []byte) string {
	n := NormalizeArgs(args)
	if n == "" || n == "{}" {
		return ""
	}
	sum := md5.Sum([]byte(n))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NormalizeArgs renders an argument blob in canonical form: JSON re-marshalled
// with sorted object keys and no insignificant whitespace. Non-JSON input is
// returned trimmed as-is.
func NormalizeArgs(args []byte) string {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(trimmed)
	}
	return string(out)
}

// fileKeyFields are the argument names, in precedence order, from which a
// canonical file key is extracted.
var fileKeyFields = []string{"filename", "file_path", "filepath", "path", "file"}

// NormalizeFileKey extracts a best-effort canonical file key from an argument
// blob: the first well-known path field, lowercased and stripped. Returns ""
// when no file-like argument is present.
func NormalizeFileKey(args []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(args), &m); err != nil {
		return ""
	}
	for _, field := range fileKeyFields {
		if v, ok := m[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return strings.ToLower(strings.TrimSpace(s))
			}
		}
	}
	return ""
}
