package agent

import "strings"

// refusalTriggers are token sequences known to trip provider-side refusal
// or prompt-injection classifiers on otherwise benign prompts. Each is
// replaced with a neutral placeholder before the request leaves the
// process. Ordered so longer tokens are replaced before their prefixes.
var refusalTriggers = [...][2]string{
	{"<|endoftext|>", "[end]"},
	{"<|im_start|>", "[start]"},
	{"<|im_end|>", "[end]"},
	{"[/INST]", "[/instruction]"},
	{"[INST]", "[instruction]"},
	{"<<SYS>>", "[system]"},
	{"<</SYS>>", "[/system]"},
	{"⁣", " "}, // invisible separator
}

// scrubOutgoing replaces known refusal-trigger tokens in text destined for
// a provider. User-visible content is never modified; only the outbound
// request copy.
func scrubOutgoing(text string) string {
	if text == "" {
		return text
	}
	for _, pair := range refusalTriggers {
		if strings.Contains(text, pair[0]) {
			text = strings.ReplaceAll(text, pair[0], pair[1])
		}
	}
	return text
}

// scrubRequest scrubs every text field of an outgoing completion request
// in place.
func scrubRequest(req *CompletionRequest) {
	if req == nil {
		return
	}
	req.System = scrubOutgoing(req.System)
	for i := range req.Messages {
		req.Messages[i].Content = scrubOutgoing(req.Messages[i].Content)
	}
}
