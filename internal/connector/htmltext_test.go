package connector

import "testing"

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"no html", "plain text", "plain text"},
		{"simple paragraph", "<p>hello</p>", "hello"},
		{"entities", "<p>I&#x27;m curious</p>", "I'm curious"},
		{"named entities", "&amp; &lt; &gt;", "& < >"},
		{"block breaks", "<p>one</p><p>two</p>", "one\ntwo"},
		{"br tags", "line<br/>break<br>again", "line\nbreak\nagain"},
		{"script removed", "before<script>alert(1)</script>after", "beforeafter"},
		{"style removed", "a<style type=\"text/css\">p{}</style>b", "ab"},
		{"space collapse", "a  \t b", "a b"},
		{"blank line cap", "<p>a</p><br><br><br><p>b</p>", "a\n\nb"},
		{"list items", "<ul><li>one</li><li>two</li></ul>", "one\ntwo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.input); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Stripping already-stripped text must be a no-op.
func TestStripHTML_Idempotent(t *testing.T) {
	inputs := []string{
		"<p>I&#x27;m curious</p>",
		"<div><h2>Title</h2><p>body text</p></div>",
		"plain text with  spaces",
	}

	for _, input := range inputs {
		once := StripHTML(input)
		twice := StripHTML(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}
