package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pmnowak/ollama-code/tools"
)

// Tier records which pattern produced an extracted tool call.
type Tier int

const (
	// TierNone means no tool call was found.
	TierNone Tier = iota
	// TierFenced is a ```tool fenced block.
	TierFenced
	// TierBare is an unfenced {"tool": ..., "args": {...}} object. Only flat
	// args objects match.
	TierBare
)

func (t Tier) String() string {
	switch t {
	case TierFenced:
		return "fenced"
	case TierBare:
		return "bare"
	default:
		return "none"
	}
}

var (
	fencedToolBlock = regexp.MustCompile("(?s)```tool\\s*\\n?\\s*(\\{.*?\\})\\s*\\n?```")
	bareToolObject  = regexp.MustCompile(`(?s)\{\s*"tool"\s*:\s*"(\w+)"\s*,\s*"args"\s*:\s*(\{[^}]*\})\s*\}`)
)

// Extraction is the result of scanning one complete model response.
type Extraction struct {
	Call  tools.Call
	Found bool
	Tier  Tier
	// Explanation is the response with the tool call removed and surrounding
	// whitespace trimmed. Without a call it is the whole response, trimmed.
	Explanation string
}

// ExtractToolCall looks for a tool call in text. Only the first fenced block is
// considered; if it is missing or malformed a bare object is tried instead.
// Malformed input is never an error, it just yields no call.
//
// text must be the complete response. Running it on a partial stream can
// match a truncated fence.
func ExtractToolCall(text string) Extraction {
	if m := fencedToolBlock.FindStringSubmatch(text); m != nil {
		if call, ok := parseFencedCall(m[1]); ok {
			return Extraction{
				Call:        call,
				Found:       true,
				Tier:        TierFenced,
				Explanation: strings.TrimSpace(fencedToolBlock.ReplaceAllString(text, "")),
			}
		}
	}

	if loc := bareToolObject.FindStringSubmatchIndex(text); loc != nil {
		var args tools.Args
		if err := json.Unmarshal([]byte(text[loc[4]:loc[5]]), &args); err == nil {
			rest := text[:loc[0]] + text[loc[1]:]
			return Extraction{
				Call:        tools.Call{Name: text[loc[2]:loc[3]], Args: args},
				Found:       true,
				Tier:        TierBare,
				Explanation: strings.TrimSpace(fencedToolBlock.ReplaceAllString(rest, "")),
			}
		}
	}

	return Extraction{Tier: TierNone, Explanation: strings.TrimSpace(text)}
}

// parseFencedCall decodes the interior of a fenced block. The object needs a
// non-empty string "tool"; "args" may be omitted or null but must otherwise
// be an object.
func parseFencedCall(body string) (tools.Call, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return tools.Call{}, false
	}
	name, _ := raw["tool"].(string)
	if name == "" {
		return tools.Call{}, false
	}

	args := tools.Args{}
	switch v := raw["args"].(type) {
	case nil:
	case map[string]interface{}:
		args = v
	default:
		return tools.Call{}, false
	}
	return tools.Call{Name: name, Args: args}, true
}
