package agent

import "testing"

func TestScrubOutgoingReplacesTriggers(t *testing.T) {
	in := "please summarize <|im_start|>this<|im_end|> text [INST]now[/INST]"
	got := scrubOutgoing(in)
	want := "please summarize [start]this[end] text [instruction]now[/instruction]"
	if got != want {
		t.Errorf("scrubOutgoing() = %q, want %q", got, want)
	}
}

func TestScrubOutgoingLeavesCleanTextAlone(t *testing.T) {
	in := "what's 2+2?"
	if got := scrubOutgoing(in); got != in {
		t.Errorf("clean text modified: %q", got)
	}
}

func TestScrubRequestCoversSystemAndMessages(t *testing.T) {
	req := &CompletionRequest{
		System: "base <<SYS>> prompt",
		Messages: []CompletionMessage{
			{Role: "user", Content: "hi <|endoftext|>"},
			{Role: "assistant", Content: "clean"},
		},
	}
	scrubRequest(req)
	if req.System != "base [system] prompt" {
		t.Errorf("system = %q", req.System)
	}
	if req.Messages[0].Content != "hi [end]" {
		t.Errorf("message = %q", req.Messages[0].Content)
	}
	if req.Messages[1].Content != "clean" {
		t.Errorf("clean message modified: %q", req.Messages[1].Content)
	}
}
