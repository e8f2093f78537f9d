package service

import "testing"

func TestStripReasoningTags(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no tags", "plain answer", "plain answer"},
		{"think block", "<think>hmm</think>answer", "answer"},
		{"thinking block", "before <thinking>secret</thinking> after", "before  after"},
		{"case insensitive", "<THINK>x</THINK>y", "y"},
		{"unclosed swallows tail", "visible <think>never closed", "visible"},
		{"final keeps content", "<final>the answer</final>", "the answer"},
		{"multiple blocks", "<think>a</think>one<think>b</think> two", "one two"},
		{"trims result", "  <think>x</think>  answer  ", "answer"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripReasoningTags(tc.in); got != tc.want {
				t.Errorf("StripReasoningTags(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripReasoningTagsPreservesCode(t *testing.T) {
	in := "Use this:\n```\n<think>literal</think>\n```\ndone"
	got := StripReasoningTags(in)
	if got != in {
		t.Errorf("fenced tag stripped: %q", got)
	}

	inline := "the `<think>` tag is markup"
	if got := StripReasoningTags(inline); got != inline {
		t.Errorf("inline tag stripped: %q", got)
	}
}
